package db

import (
	"errors"
	"fmt"

	"github.com/blacktop/deodex/internal/model"
	"github.com/blacktop/deodex/pkg/classpath"
	"gorm.io/gorm"
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Class{},
		&model.Interface{},
		&model.Method{},
		&model.Field{},
		&model.InlineMethod{},
	)
}

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func preloaded(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Interfaces", byPosition).
		Preload("Methods", byPosition).
		Preload("Fields", byPosition)
}

func saveDefinitions(db *gorm.DB, defs *classpath.Definitions) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.Interface{}, &model.Method{}, &model.Field{}, &model.Class{}, &model.InlineMethod{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
				return err
			}
		}
		classes := make([]*model.Class, 0, len(defs.Classes))
		for _, def := range defs.Classes {
			classes = append(classes, model.NewClass(def))
		}
		if len(classes) > 0 {
			if err := tx.Create(&classes).Error; err != nil {
				return fmt.Errorf("failed to store classes: %w", err)
			}
		}
		inline := make([]model.InlineMethod, 0, len(defs.Inline))
		for i, m := range defs.Inline {
			inline = append(inline, model.InlineMethod{Position: i, Method: m})
		}
		if len(inline) > 0 {
			if err := tx.Create(&inline).Error; err != nil {
				return fmt.Errorf("failed to store inline table: %w", err)
			}
		}
		return nil
	})
}

func getClass(db *gorm.DB, name string) (*model.Class, error) {
	var c model.Class
	if err := preloaded(db).Where("name = ?", name).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func loadDefinitions(db *gorm.DB) (*classpath.Definitions, error) {
	var classes []model.Class
	if err := preloaded(db).Order("name").Find(&classes).Error; err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, model.ErrEmpty
	}
	var inline []model.InlineMethod
	if err := byPosition(db).Find(&inline).Error; err != nil {
		return nil, err
	}
	defs := &classpath.Definitions{}
	for i := range classes {
		defs.Classes = append(defs.Classes, classes[i].ClassDef())
	}
	for _, m := range inline {
		defs.Inline = append(defs.Inline, m.Method)
	}
	return defs, nil
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
