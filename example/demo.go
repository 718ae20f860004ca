// Command demo exercises KVAT end to end against a real mmapped file,
// the way the teacher's quick_start example drives its B+tree: construct,
// initialize, run a few operations, close.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Repixen/KVAT"
	"github.com/Repixen/KVAT/devices/filedevice"
	"gopkg.in/yaml.v3"
)

// config is the demo's on-disk settings file, loaded with yaml.v3 the way
// the teacher's examples keep their own tunables out of Go source.
type config struct {
	Path      string `yaml:"path"`
	PageSize  uint32 `yaml:"page_size"`
	PageCount uint8  `yaml:"page_count"`
}

func loadConfig(path string) (config, error) {
	cfg := config{
		Path:      "kvat-demo.bin",
		PageSize:  32,
		PageCount: 64,
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig("kvat-demo.yaml")
	if err != nil {
		log.Fatal(err)
	}

	addressSpace := uint64(16) + uint64(4)*uint64(cfg.PageCount) + uint64(cfg.PageSize)*uint64(cfg.PageCount)
	dev, err := filedevice.Open(cfg.Path, addressSpace)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	engine, err := kvat.Open(dev, kvat.Options{PageSize: cfg.PageSize, PageCount: cfg.PageCount})
	if err != nil {
		log.Fatal(err)
	}

	if err := engine.SaveString("greeting", "hello from kvat"); err != nil {
		log.Fatal(err)
	}

	value, err := engine.RetrieveStringAlloc("greeting")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(value)

	if err := engine.Rename("greeting", "greeting.v2"); err != nil {
		log.Fatal(err)
	}

	var state int
	for {
		key, err := engine.Search("greeting", &state, make([]byte, 64))
		if err != nil {
			break
		}
		fmt.Println("found key:", key)
	}
}
