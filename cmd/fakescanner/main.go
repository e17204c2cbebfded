// Command fakescanner answers MDL, VER and STS like an SDS200 so the poller
// can be run without hardware.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var frequencies = []string{"154.6700", "462.5500", "151.8200", "460.0250", "155.4750"}
var modes = []string{"FM", "NFM", "AM"}

// device holds the simulated scanner state.
type device struct {
	model    string
	firmware string
	latency  time.Duration
	dropRate float64
	rng      *rand.Rand
	commands atomic.Int64
}

func (d *device) respond(cmd string) string {
	switch protocol.Mnemonic(cmd) {
	case protocol.MnemonicModel:
		return fmt.Sprintf("MDL,%s,", d.model)
	case protocol.MnemonicVersion:
		return fmt.Sprintf("VER,%s,", d.firmware)
	case protocol.MnemonicStatus:
		return fmt.Sprintf("STS,%s,%d,%s,%d,%d",
			frequencies[d.rng.Intn(len(frequencies))],
			d.rng.Intn(100),
			modes[d.rng.Intn(len(modes))],
			d.rng.Intn(16),
			d.rng.Intn(10),
		)
	default:
		return cmd + ",ERR"
	}
}

func (d *device) handle(conn net.Conn, log *logrus.Logger) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	log.Infof("client connected: %s", peer)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			log.Infof("client disconnected: %s", peer)
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		d.commands.Add(1)

		if d.dropRate > 0 && d.rng.Float64() < d.dropRate {
			log.Warnf("dropping connection %s on %s", peer, cmd)
			return
		}
		if d.latency > 0 {
			time.Sleep(d.latency)
		}

		reply := d.respond(cmd)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write([]byte(reply + protocol.LineTerminator)); err != nil {
			log.Warnf("write to %s failed: %v", peer, err)
			return
		}
		log.Debugf("%s -> %s", cmd, reply)
	}
}

func main() {
	addr := flag.String("listen", "127.0.0.1:50536", "listen address")
	model := flag.String("model", "SDS200", "reported model")
	firmware := flag.String("firmware", "1.02.00", "reported firmware")
	latency := flag.Duration("latency", 0, "delay before each reply")
	dropRate := flag.Float64("drop", 0, "probability of dropping the connection per command")
	verbose := flag.Bool("v", false, "log every command")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	d := &device{
		model:    *model,
		firmware: *firmware,
		latency:  *latency,
		dropRate: *dropRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen on %s: %v", *addr, err)
	}
	log.Infof("fake scanner %s listening on %s", d.model, listener.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("served %d commands", d.commands.Load())
				return
			}
			log.Errorf("accept: %v", err)
			continue
		}
		// one client at a time
		d.handle(conn, log)
	}
}
