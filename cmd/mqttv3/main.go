// Command mqttv3 publishes to and subscribes on an MQTT 3.1.1 broker.
//
// Usage:
//
//	mqttv3 pub -t topic -m message [-q qos] [-r] [flags]
//	mqttv3 sub -t filter [-t filter ...] [-q qos] [-n count] [flags]
//	mqttv3 version
//
// Connection settings are read from --config, ./mqttv3.yaml or MQTTV3_*
// environment variables. Flags override both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/vitalvas/mqttv3"
	"github.com/vitalvas/mqttv3/extensions/router"
	"github.com/vitalvas/mqttv3/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "pub":
		err = runPub(ctx, os.Args[2:])
	case "sub":
		err = runSub(ctx, os.Args[2:])
	case "version":
		fmt.Printf("mqttv3 %s\n", version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: mqttv3 <pub|sub|version> [flags]")
}

// connectionFlags registers the flags shared by pub and sub. Their names
// match the keys config.Load binds.
func connectionFlags(fs *pflag.FlagSet) *string {
	configFile := fs.String("config", "", "path to config file")
	fs.StringP("broker", "b", "", "broker URI (tcp://, mqtt://, ws://, unix://)")
	fs.StringP("client-id", "i", "", "client identifier, random when empty")
	fs.StringP("username", "u", "", "username")
	fs.StringP("password", "P", "", "password, requires --username")
	fs.Bool("clean-session", true, "discard session state on the broker")
	fs.String("will-topic", "", "last will topic")
	fs.String("will-message", "", "last will payload")
	fs.Int("will-qos", 0, "last will QoS")
	fs.Bool("will-retain", false, "retain the last will")
	fs.Float64("rate-limit", 0, "maximum publishes per second, 0 for no limit")
	fs.String("proxy", "", "HTTP CONNECT or SOCKS5 proxy URL")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "json or console")
	fs.Bool("stats", false, "print client metrics to stderr on exit")
	return configFile
}

// session is a configured client with its logger.
type session struct {
	cfg    *config.Config
	logger  *zap.Logger
	client  *mqttv3.Client
	metrics *mqttv3.MemoryMetrics
}

func dial(ctx context.Context, fs *pflag.FlagSet, configFile string) (*session, error) {
	cfg, err := config.Load(configFile, fs)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	s := &session{cfg: cfg, logger: logger}

	opts := append(cfg.ClientOptions(),
		mqttv3.WithLogger(mqttv3.NewZapLogger(logger, cfg.Logging.LogLevel())))
	if stats, _ := fs.GetBool("stats"); stats {
		s.metrics = mqttv3.NewMemoryMetrics()
		opts = append(opts, mqttv3.WithMetrics(s.metrics))
	}

	s.client, err = mqttv3.Dial(ctx, cfg.Broker.URL, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return s, nil
}

func (s *session) close() {
	if s.metrics != nil {
		for _, sample := range s.metrics.Snapshot() {
			value := sample.Value
			if sample.Type == mqttv3.MetricTypeHistogram {
				fmt.Fprintf(os.Stderr, "%s count=%d sum=%g\n", sample, sample.Count, value)
				continue
			}
			fmt.Fprintf(os.Stderr, "%s %g\n", sample, value)
		}
	}
	_ = s.logger.Sync()
}

func runPub(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("pub", pflag.ContinueOnError)
	configFile := connectionFlags(fs)
	topic := fs.StringP("topic", "t", "", "topic to publish to")
	message := fs.StringP("message", "m", "", "message payload")
	file := fs.StringP("file", "f", "", "read the payload from a file, - for stdin")
	qos := fs.IntP("qos", "q", 0, "QoS level (0, 1 or 2)")
	retain := fs.BoolP("retain", "r", false, "retain the message")
	timeout := fs.Duration("timeout", 10*time.Second, "wait this long for the broker to acknowledge")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := mqttv3.ValidateTopicName(*topic); err != nil {
		return fmt.Errorf("--topic: %w", err)
	}
	level := mqttv3.QoS(*qos)
	if !level.Valid() {
		return fmt.Errorf("--qos: %d is not 0, 1 or 2", *qos)
	}

	payload := []byte(*message)
	if *file != "" {
		var err error
		if payload, err = readPayload(*file); err != nil {
			return err
		}
	}

	s, err := dial(ctx, fs, *configFile)
	if err != nil {
		return err
	}
	defer s.close()

	// QoS 1 completes on PUBACK, QoS 2 on PUBREC followed by PUBCOMP.
	acks := int(level)
	done := make(chan error, 1)
	handler := mqttv3.HandlerFuncs{
		Connect: func(code mqttv3.ConnectReturnCode) {
			if code != mqttv3.ConnectAccepted {
				notify(done, fmt.Errorf("connection refused: %s", code))
			}
		},
		Publish: func(uint16) {
			acks--
			if acks == 0 {
				notify(done, nil)
			}
		},
	}

	runErr := make(chan error, 1)
	go func() { runErr <- s.client.Run(ctx, handler) }()

	id, err := s.client.Publish(*topic, payload, level, *retain)
	if err != nil {
		_ = s.client.Disconnect()
		<-runErr
		return err
	}
	s.logger.Debug("published", zap.String("topic", *topic), zap.Uint16("packet_id", id))

	if level == mqttv3.QoS0 {
		err = nil
	} else {
		select {
		case err = <-done:
		case <-time.After(*timeout):
			err = fmt.Errorf("no acknowledgment for packet %d within %s", id, *timeout)
		case err = <-runErr:
			return err
		}
	}

	if derr := s.client.Disconnect(); derr != nil && err == nil {
		err = derr
	}
	if rerr := <-runErr; rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// notify delivers err unless a result is already pending.
func notify(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func readPayload(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func runSub(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("sub", pflag.ContinueOnError)
	configFile := connectionFlags(fs)
	filters := fs.StringArrayP("topic", "t", nil, "topic filter, repeatable")
	qos := fs.IntP("qos", "q", 0, "requested QoS level (0, 1 or 2)")
	count := fs.IntP("count", "n", 0, "exit after this many messages, 0 to run until interrupted")
	verbose := fs.BoolP("verbose", "v", false, "print the topic before each payload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*filters) == 0 {
		return errors.New("--topic: at least one filter is required")
	}
	level := mqttv3.QoS(*qos)
	if !level.Valid() {
		return fmt.Errorf("--qos: %d is not 0, 1 or 2", *qos)
	}

	received := 0
	stop := make(chan struct{})
	printMessage := func(msg *mqttv3.PublishPacket) {
		if *verbose {
			fmt.Printf("%s %s\n", msg.Topic, msg.Payload)
		} else {
			fmt.Printf("%s\n", msg.Payload)
		}
		received++
		if *count > 0 && received == *count {
			close(stop)
		}
	}

	r := router.New()
	for _, filter := range *filters {
		if err := r.Handle(printMessage, router.WithTopic(filter)); err != nil {
			return fmt.Errorf("--topic: %w", err)
		}
	}

	s, err := dial(ctx, fs, *configFile)
	if err != nil {
		return err
	}
	defer s.close()

	refused := make(chan error, 1)
	handler := mqttv3.HandlerFuncs{
		// Every CONNACK subscribes again, so a reconnect restores the filters.
		Connect: func(code mqttv3.ConnectReturnCode) {
			if code != mqttv3.ConnectAccepted {
				notify(refused, fmt.Errorf("connection refused: %s", code))
				return
			}
			if _, err := r.SubscribeAll(s.client, level); err != nil {
				s.logger.Error("subscribe failed", zap.Error(err))
			}
		},
		Message: r.OnMessage,
	}

	runErr := make(chan error, 1)
	go func() { runErr <- s.client.Run(ctx, handler) }()

	select {
	case err = <-runErr:
		return err
	case err = <-refused:
	case <-stop:
	}

	if derr := s.client.Disconnect(); derr != nil && err == nil {
		err = derr
	}
	if rerr := <-runErr; rerr != nil && err == nil {
		err = rerr
	}
	return err
}
