package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/rs/zerolog"

	"github.com/kilnbuild/kiln/pkg/stores"
)

// ExampleNewHistoryRecorder shows how a build's evaluations end up in the
// history database.
func ExampleNewHistoryRecorder() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	rec, err := stores.NewHistoryRecorder(ctx, store, &stores.BuildRecord{
		ID:      "example",
		Name:    "shop",
		RootDir: "/src/shop",
		Version: "dev",
	}, zerolog.Nop())
	if err != nil {
		log.Fatal(err)
	}

	if err := rec.Finish(nil); err != nil {
		log.Fatal(err)
	}

	build, err := store.GetBuild(ctx, "example")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(build.Name, build.Status)
	// Output: shop succeeded
}
