package dalvik

// Format is an instruction encoding format. It doubles as the discriminant of the
// operand payload carried by an Instruction.
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format20bc
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format22cs
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format35ms
	Format35mi
	Format3rc
	Format3rms
	Format3rmi
	Format51l
	// pseudo formats
	FormatPackedSwitchPayload
	FormatSparseSwitchPayload
	FormatArrayPayload
	FormatUnresolvedNullReference
)

var formatNames = [...]string{
	Format10x:                     "10x",
	Format12x:                     "12x",
	Format11n:                     "11n",
	Format11x:                     "11x",
	Format10t:                     "10t",
	Format20t:                     "20t",
	Format20bc:                    "20bc",
	Format22x:                     "22x",
	Format21t:                     "21t",
	Format21s:                     "21s",
	Format21h:                     "21h",
	Format21c:                     "21c",
	Format23x:                     "23x",
	Format22b:                     "22b",
	Format22t:                     "22t",
	Format22s:                     "22s",
	Format22c:                     "22c",
	Format22cs:                    "22cs",
	Format30t:                     "30t",
	Format32x:                     "32x",
	Format31i:                     "31i",
	Format31t:                     "31t",
	Format31c:                     "31c",
	Format35c:                     "35c",
	Format35ms:                    "35ms",
	Format35mi:                    "35mi",
	Format3rc:                     "3rc",
	Format3rms:                    "3rms",
	Format3rmi:                    "3rmi",
	Format51l:                     "51l",
	FormatPackedSwitchPayload:     "packed-switch-payload",
	FormatSparseSwitchPayload:     "sparse-switch-payload",
	FormatArrayPayload:            "array-payload",
	FormatUnresolvedNullReference: "unresolved-null-reference",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// Units returns the fixed size of the format in 2-byte code units (0 for variable sized payloads)
func (f Format) Units() uint32 {
	switch f {
	case Format10x, Format12x, Format11n, Format11x, Format10t:
		return 1
	case Format20t, Format20bc, Format22x, Format21t, Format21s, Format21h, Format21c,
		Format23x, Format22b, Format22t, Format22s, Format22c, Format22cs:
		return 2
	case Format30t, Format32x, Format31i, Format31t, Format31c,
		Format35c, Format35ms, Format35mi, Format3rc, Format3rms, Format3rmi:
		return 3
	case Format51l:
		return 5
	}
	return 0
}

// symbolic returns the format used once an odexed format has been resolved
func (f Format) symbolic() Format {
	switch f {
	case Format22cs:
		return Format22c
	case Format35ms, Format35mi:
		return Format35c
	case Format3rms, Format3rmi:
		return Format3rc
	}
	return f
}

// IsRange reports whether the format encodes its argument registers as a range
func (f Format) IsRange() bool {
	return f == Format3rc || f == Format3rms || f == Format3rmi
}
