package dalvik

import (
	"reflect"
	"testing"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		ref     string
		want    MethodRef
		regs    int
		wantErr bool
	}{
		{"Lcom/Foo;->run()V", MethodRef{Class: "Lcom/Foo;", Name: "run", Return: "V"}, 0, false},
		{"Lcom/Foo;-><init>(IJLjava/lang/String;[[D)V", MethodRef{Class: "Lcom/Foo;", Name: "<init>", Params: []string{"I", "J", "Ljava/lang/String;", "[[D"}, Return: "V"}, 5, false},
		{"[I->clone()Ljava/lang/Object;", MethodRef{Class: "[I", Name: "clone", Return: "Ljava/lang/Object;"}, 0, false},
		{"Lcom/Foo;->max(DD)D", MethodRef{Class: "Lcom/Foo;", Name: "max", Params: []string{"D", "D"}, Return: "D"}, 4, false},
		{"run()V", MethodRef{}, 0, true},
		{"Lcom/Foo;->run(V)V", MethodRef{}, 0, true},
		{"Lcom/Foo;->run(Lcom/Bar)V", MethodRef{}, 0, true},
		{"Lcom/Foo;->run([)V", MethodRef{}, 0, true},
		{"Lcom/Foo;->run()", MethodRef{}, 0, true},
		{"Lcom/Foo;->run)(V", MethodRef{}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMethod(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseMethod(%q) = %#v, want %#v", tt.ref, got, tt.want)
		}
		if got.String() != tt.ref {
			t.Errorf("ParseMethod(%q).String() = %q", tt.ref, got.String())
		}
		if n := got.ParameterRegisters(); n != tt.regs {
			t.Errorf("ParseMethod(%q).ParameterRegisters() = %d, want %d", tt.ref, n, tt.regs)
		}
	}
}

func TestParseField(t *testing.T) {
	f, err := ParseField("Lcom/Foo;->bar:I")
	if err != nil {
		t.Fatal(err)
	}
	if f != (FieldRef{Class: "Lcom/Foo;", Name: "bar", Type: "I"}) {
		t.Errorf("ParseField() = %#v", f)
	}
	if f.String() != "Lcom/Foo;->bar:I" {
		t.Errorf("FieldRef.String() = %q", f.String())
	}

	for _, bad := range []string{"bar:I", "Lcom/Foo;->bar", "Lcom/Foo;->bar:", "Lcom/Foo;->:I", "Lcom/Foo;->bar:V", "Lcom/Foo;->bar:Lcom"} {
		if _, err := ParseField(bad); err == nil {
			t.Errorf("ParseField(%q) expected an error", bad)
		}
	}

	name, typ, err := ParseFieldSpec("this$0:Lcom/Outer;")
	if err != nil || name != "this$0" || typ != "Lcom/Outer;" {
		t.Errorf("ParseFieldSpec() = %q, %q, %v", name, typ, err)
	}
}

func TestDescriptors(t *testing.T) {
	for _, typ := range []string{"I", "Z", "J", "[I", "[[Ljava/lang/String;", "Lcom/Foo;"} {
		if !ValidType(typ) {
			t.Errorf("ValidType(%q) = false", typ)
		}
	}
	for _, typ := range []string{"", "V", "[V", "[", "L;", "Lcom/Foo", "Lcom/Foo;x", "Q"} {
		if ValidType(typ) {
			t.Errorf("ValidType(%q) = true", typ)
		}
	}

	dims, elem := ArrayDimensions("[[Lcom/Foo;")
	if dims != 2 || elem != "Lcom/Foo;" {
		t.Errorf("ArrayDimensions() = %d, %q", dims, elem)
	}
	if ArrayOf("I", 3) != "[[[I" {
		t.Errorf("ArrayOf() = %q", ArrayOf("I", 3))
	}
	if !IsWide("D") || IsWide("I") || IsPrimitive("Lcom/Foo;") || !IsPrimitive("V") || !IsReference("[I") || IsArray("I") {
		t.Error("unexpected descriptor classification")
	}

	types, err := ParseTypeList("IJLjava/lang/String;[B")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"I", "J", "Ljava/lang/String;", "[B"}; !reflect.DeepEqual(types, want) {
		t.Errorf("ParseTypeList() = %v, want %v", types, want)
	}
}
