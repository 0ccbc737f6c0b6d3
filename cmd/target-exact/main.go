package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hotgluexyz/target-exact/exact"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the target config file")
	flag.Parse()

	cfg, err := exact.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("target-exact: %v", err)
	}

	tokens := exact.NewTokenStore(cfg)
	tokens.OnTokenRotated = func(newToken string) {
		if err := exact.SaveRefreshToken(*configPath, newToken); err != nil {
			log.Printf("target-exact: %v", err)
		}
	}
	client := exact.NewClient(tokens, cfg.CurrentDivision)

	store, err := exact.NewDedupStateStore(cfg.StateBackend)
	if err != nil {
		log.Fatalf("target-exact: %v", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	var outMu sync.Mutex
	states := exact.StateWriterFunc(func(outcome exact.Outcome) {
		line, err := json.Marshal(outcome)
		if err != nil {
			log.Printf("target-exact: failed to encode outcome for %s: %v", outcome.Hash, err)
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		_, _ = out.Write(append(line, '\n'))
		_ = out.Flush()
	})

	processor := exact.NewRecordProcessor(store, states)
	dispatcher := exact.NewDispatcher(processor)
	for _, sink := range exact.DefaultSinks() {
		dispatcher.Register(sink)
	}
	dispatcher.Start(cfg.MaxParallelism)

	rc := exact.RecordContext{
		Ctx:    context.Background(),
		Client: client,
		Config: cfg,
		RunID:  fmt.Sprintf("run_%d", time.Now().UnixNano()),
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		switch gjson.Get(line, "type").String() {
		case "RECORD":
			stream := gjson.Get(line, "stream").String()
			record := gjson.Get(line, "record").Raw
			if err := dispatcher.Submit(stream, record, rc); err != nil {
				log.Printf("target-exact: %v", err)
			}
		case "SCHEMA", "STATE":
			// schemas are not enforced; upstream state lines are
			// superseded by the per-record outcomes emitted above
		default:
			log.Printf("target-exact: ignoring message %s", gjson.Get(line, "type").String())
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("target-exact: input error: %v", err)
	}

	dispatcher.Drain()
}
