package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/config"
	"quakenotify/pkg/envelope"
	"quakenotify/pkg/failure"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUDPSourcePublishesDatagrams(t *testing.T) {
	src, err := ListenUDP("127.0.0.1:0", quietLogger())
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	b := bus.New()
	t.Cleanup(b.Close)
	sub := b.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, b) }()

	if err := Send(context.Background(), src.LocalAddr().String(), []byte("IMGPATH /tmp/plot.png|震度３")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	receiveCtx, receiveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer receiveCancel()
	env, ok := sub.Receive(receiveCtx)
	if !ok {
		t.Fatal("expected an envelope from the UDP source")
	}
	if env.Kind != envelope.KindImage || env.Path != "/tmp/plot.png" || env.Label != "震度３" {
		t.Fatalf("envelope = %+v", env)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("UDP source did not stop on cancel")
	}
}

func TestListenUDPValidation(t *testing.T) {
	if _, err := ListenUDP(" ", nil); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("ListenUDP() error = %v, want configuration failure", err)
	}
}

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestKafkaSourcePublishesRecords(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte("ALARM 1704067205.0")},
		{Value: []byte("TERM")},
	}}
	src := newKafkaSource(reader, "seismo", quietLogger())

	b := bus.New()
	t.Cleanup(b.Close)
	sub := b.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, b) }()

	for _, want := range []envelope.Kind{envelope.KindAlarm, envelope.KindTerminate} {
		receiveCtx, receiveCancel := context.WithTimeout(context.Background(), 2*time.Second)
		env, ok := sub.Receive(receiveCtx)
		receiveCancel()
		if !ok || env.Kind != want {
			t.Fatalf("envelope = %v %v, want %s", env.Kind, ok, want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Kafka source did not stop on cancel")
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if !reader.closed {
		t.Fatal("expected reader to be closed")
	}
}

func TestKafkaSourceSurvivesReadErrors(t *testing.T) {
	reader := &fakeReader{
		errs:     []error{errors.New("broker unavailable")},
		messages: []kafka.Message{{Value: []byte("TERM")}},
	}
	src := newKafkaSource(reader, "seismo", quietLogger())

	b := bus.New()
	t.Cleanup(b.Close)
	sub := b.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Run(ctx, b) }()

	receiveCtx, receiveCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer receiveCancel()
	if env, ok := sub.Receive(receiveCtx); !ok || env.Kind != envelope.KindTerminate {
		t.Fatalf("envelope = %v %v, want terminate after read error", env.Kind, ok)
	}
}

func TestNewKafkaValidation(t *testing.T) {
	tests := []config.KafkaSourceConfig{
		{Topic: "seismo"},
		{Brokers: []string{" "}, Topic: "seismo"},
		{Brokers: []string{"localhost:9092"}},
	}

	for _, cfg := range tests {
		if _, err := NewKafka(cfg, nil); !failure.Is(err, failure.ErrorConfiguration) {
			t.Fatalf("NewKafka(%+v) error = %v, want configuration failure", cfg, err)
		}
	}
}

type fakeWriter struct {
	err     error
	written []kafka.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestWriteRecord(t *testing.T) {
	writer := &fakeWriter{}
	payload := envelope.Terminate().Encode()

	if err := writeRecord(context.Background(), writer, "alerts", payload); err != nil {
		t.Fatalf("writeRecord() error = %v", err)
	}
	if len(writer.written) != 1 || string(writer.written[0].Value) != "TERM" {
		t.Fatalf("written = %+v, want one TERM record", writer.written)
	}
	if !writer.closed {
		t.Fatal("writer was not closed")
	}

	failing := &fakeWriter{err: errors.New("leader not available")}
	if err := writeRecord(context.Background(), failing, "alerts", payload); err == nil {
		t.Fatal("expected write error")
	}
	if !failing.closed {
		t.Fatal("failing writer was not closed")
	}
}

func TestSendKafkaValidation(t *testing.T) {
	err := SendKafka(context.Background(), config.KafkaSourceConfig{Topic: "alerts"}, []byte("TERM"))
	if !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("SendKafka() error = %v, want configuration failure", err)
	}
}
