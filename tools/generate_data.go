package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/internal/history"
	"serial-logger/pkg/protocol"
)

func main() {
	initPath := flag.String("init", "", "create an empty history file at this path and exit")
	root := flag.String("root", protocol.DefaultRootElement, "root element for -init")
	appendTo := flag.String("append", "", "append the generated readings to this history file")
	count := flag.Int("count", 1, "number of lines to generate")
	act := flag.String("act", "ON", "ACT field")
	random := flag.Bool("random", false, "random BYTE fields and ACT")
	flag.Parse()

	log := logrus.New()

	if *initPath != "" {
		store := history.NewStore(config.HistoryConfig{Path: *initPath, RootElement: *root}, log)
		created, err := store.Init()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if !created {
			fmt.Printf("%s already exists\n", *initPath)
		}
		return
	}

	var store *history.Store
	if *appendTo != "" {
		store = history.NewStore(config.HistoryConfig{Path: *appendTo}, log)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < *count; i++ {
		fields := []string{"12", "34", "56", "78", *act}
		if *random {
			fields = randomFields(rng)
		}

		line := strings.Join(fields, protocol.Delimiter)
		fmt.Println(line)

		if store != nil {
			e := &protocol.Event{
				Byte0:    fields[0],
				Byte1:    fields[1],
				Byte2:    fields[2],
				Byte3:    fields[3],
				Act:      fields[4],
				DateTime: protocol.FormatDateTime(time.Now()),
			}
			if _, err := store.Append(context.Background(), e); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
	}
}

// randomFields returns four byte values and an ACT.
func randomFields(rng *rand.Rand) []string {
	fields := make([]string, 0, protocol.FieldCount)
	for i := 0; i < 4; i++ {
		fields = append(fields, fmt.Sprintf("%d", rng.Intn(256)))
	}
	if rng.Intn(2) == 0 {
		return append(fields, "ON")
	}
	return append(fields, "OFF")
}
