package main

import (
	"context"
	"fmt"

	"z-class-ai-api/internal/domain/entity"
	"z-class-ai-api/internal/domain/repository"
)

// importClasses 在一个事务内把 src 中尚未入库的课程写入 dst，返回导入数量
func importClasses(ctx context.Context, tx repository.Transactor, dst, src repository.ClassRepository, previews []entity.ClassPreview) (int, error) {
	imported := 0
	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		imported = 0
		for _, p := range previews {
			exists, err := dst.Exists(txCtx, p.Name)
			if err != nil {
				return err
			}
			if exists {
				fmt.Printf("Class %q already exists, skipped.\n", p.Name)
				continue
			}

			class, err := src.Get(txCtx, p.Name)
			if err != nil {
				return fmt.Errorf("read %q: %w", p.Name, err)
			}
			if class == nil {
				continue
			}
			if _, err := dst.Save(txCtx, class); err != nil {
				return fmt.Errorf("save %q: %w", p.Name, err)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}
