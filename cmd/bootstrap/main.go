package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"z-class-ai-api/internal/config"
	"z-class-ai-api/internal/infrastructure/persistence/filestore"
	"z-class-ai-api/internal/wire"
)

func main() {
	importDir := flag.String("import-dir", "", "import classes/<name>.json files from this directory into postgres")
	flag.Parse()

	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化数据层（仅 PostgreSQL）
	dataLayer, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. 迁移 classes 表
	if err := dataLayer.PgClient.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	fmt.Println("Schema migrated.")

	// 4. 导入本地课程文件（可选）
	if *importDir == "" {
		fmt.Println("Bootstrap completed successfully.")
		return
	}

	src := filestore.NewStore(*importDir)
	previews, err := src.List(ctx)
	if err != nil {
		log.Fatalf("failed to list classes in %s: %v", *importDir, err)
	}

	imported, err := importClasses(ctx, dataLayer.TxManager, dataLayer.ClassRepo, src, previews)
	if err != nil {
		log.Fatalf("failed to import classes: %v", err)
	}

	fmt.Printf("Imported %d of %d classes from %s.\n", imported, len(previews), src.Dir())
	fmt.Println("Bootstrap completed successfully.")
}
