package storage

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Broker is a NATS connection with its JetStream context, optionally backed
// by an in-process server.
type Broker struct {
	Conn      *nats.Conn
	JetStream jetstream.JetStream

	embedded *server.Server
}

// Connect connects to an external NATS server.
func Connect(url string) (*Broker, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Broker{Conn: conn, JetStream: js}, nil
}

// StartEmbedded starts an in-process JetStream-enabled NATS server on a random
// port and connects to it. An empty storeDir keeps JetStream data in a
// temporary directory.
func StartEmbedded(storeDir string) (*Broker, error) {
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	// Wait for server to be ready
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	b, err := Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	b.embedded = ns
	return b, nil
}

// Close drains the connection and stops the embedded server, if any.
func (b *Broker) Close() {
	if b.Conn != nil {
		_ = b.Conn.Drain()
		b.Conn.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}
