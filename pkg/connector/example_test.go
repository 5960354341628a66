package connector_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"

	// Import sinks to register them
	_ "github.com/ajitpratap0/withsecure-connector/pkg/connector/destinations"
)

// Example demonstrates creating a sink via the registry and pushing a batch.
func Example() {
	dir, err := os.MkdirTemp("", "events-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := config.SinkConfig{
		Type:        "file",
		Compression: "none",
		File:        config.FileSinkConfig{Directory: dir},
	}

	sink, err := registry.CreateSink(cfg.Type, cfg, registry.Dependencies{})
	if err != nil {
		log.Fatal(err)
	}
	defer sink.Close(context.Background())

	if err := sink.Push(context.Background(), []string{`{"id":"e1"}`}); err != nil {
		log.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	fmt.Println(sink.Name(), len(entries))
	// Output: file 1
}
