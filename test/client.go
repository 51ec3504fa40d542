package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/tarm/serial"
)

// Simulates the telemetry device: writes BYTE0:BYTE1:BYTE2:BYTE3:ACT lines
// to the other end of a serial link (or a virtual pair made with socat).
func main() {
	device := flag.String("device", "/dev/ttyS1", "serial device to write to")
	baud := flag.Int("baud", 9600, "baud rate")
	count := flag.Int("count", 10, "number of lines to send")
	interval := flag.Duration("interval", time.Second, "delay between lines")
	short := flag.Bool("short", false, "send a line with missing fields last")
	flag.Parse()

	port, err := serial.OpenPort(&serial.Config{Name: *device, Baud: *baud})
	if err != nil {
		log.Fatalf("open %s: %v", *device, err)
	}
	defer port.Close()

	fmt.Printf("Writing to %s @ %d\n", *device, *baud)

	for i := 0; i < *count; i++ {
		line := makeTestLine(rand.Intn(256), rand.Intn(256), rand.Intn(256), rand.Intn(256), i%2 == 0)

		if _, err := port.Write([]byte(line)); err != nil {
			log.Printf("write failed: %v", err)
			break
		}
		fmt.Printf("[%d] %q\n", i+1, line)

		time.Sleep(*interval)
	}

	if *short {
		line := "12:34\n"
		if _, err := port.Write([]byte(line)); err != nil {
			log.Printf("write failed: %v", err)
		}
		fmt.Printf("[short] %q\n", line)
	}

	fmt.Println("Done")
}

// makeTestLine builds one colon-delimited device line.
func makeTestLine(b0, b1, b2, b3 int, on bool) string {
	act := "OFF"
	if on {
		act = "ON"
	}
	return fmt.Sprintf("%d:%d:%d:%d:%s\n", b0, b1, b2, b3, act)
}
