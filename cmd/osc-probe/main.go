// osc-probe exercises the OSC contract without a microphone: it registers the
// keyword channels in the controller's OSC In CHOP and can replay scripted
// test traffic to verify the link.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/tarz-one/Companion/internal/config"
)

func main() {
	var (
		configPath string
		host       string
		port       int
		mode       string
		delayMS    int
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (for the vocabulary; defaults apply when empty)")
	flag.StringVar(&host, "host", "", "OSC host (overrides config)")
	flag.IntVar(&port, "port", 0, "OSC port (overrides config)")
	flag.StringVar(&mode, "mode", "init", "Probe mode: init (pulse every keyword channel) or test (scripted traffic)")
	flag.IntVar(&delayMS, "delay", 100, "Delay between messages in milliseconds")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if host == "" {
		host = cfg.OSC.Host
	}
	if port == 0 {
		port = cfg.OSC.Port
	}

	client := goosc.NewClient(host, port)
	delay := time.Duration(delayMS) * time.Millisecond
	fmt.Printf("OSC probe -> %s:%d\n", host, port)

	var runErr error
	switch mode {
	case "init":
		runErr = runInit(client, cfg.Keywords, delay)
	case "test":
		runErr = runTest(client, cfg.Keywords, delay)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "probe failed:", runErr)
		os.Exit(1)
	}
	fmt.Println("done")
}

// runInit pulses every vocabulary address once so each channel shows up on
// the controller before the first real detection.
func runInit(client *goosc.Client, keywords config.KeywordConfig, delay time.Duration) error {
	prefix := keywords.AddressPrefix
	if prefix == "" {
		prefix = "/keyword/"
	}
	for _, entry := range keywords.Vocabulary {
		address := entry.Address
		if address == "" {
			address = prefix + entry.Name
		}
		if err := send(client, address, int32(1)); err != nil {
			return err
		}
		time.Sleep(delay)
		if err := send(client, address, int32(0)); err != nil {
			return err
		}
		fmt.Printf("pulsed %s\n", address)
		time.Sleep(delay)
	}
	return nil
}

func runTest(client *goosc.Client, keywords config.KeywordConfig, delay time.Duration) error {
	if err := send(client, "/test/started", float32(1.0)); err != nil {
		return err
	}
	time.Sleep(delay)

	if err := runInit(client, keywords, delay); err != nil {
		return err
	}

	for i := 0; i < 5; i++ {
		value := rand.Float32()
		if err := send(client, "/test/random", value); err != nil {
			return err
		}
		fmt.Printf("sent /test/random = %.3f\n", value)
		time.Sleep(delay)
	}

	for axis, value := range map[string]float32{"x": 0.5, "y": 0.75, "z": 0.25} {
		if err := send(client, "/test/"+axis, value); err != nil {
			return err
		}
	}

	time.Sleep(delay)
	return send(client, "/test/completed", float32(1.0))
}

func send(client *goosc.Client, address string, arg interface{}) error {
	msg := goosc.NewMessage(address)
	msg.Append(arg)
	if err := client.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", address, err)
	}
	return nil
}
