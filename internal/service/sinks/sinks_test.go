package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/pkg/config"
)

func TestSplitShortTextIsUnlabelled(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 4096))
}

func TestSplitPrefersLineBoundaries(t *testing.T) {
	line := strings.Repeat("x", 30) + "\n"
	text := strings.Repeat(line, 10)
	parts := Split(text, 100)

	require.Greater(t, len(parts), 1)
	n := strconv.Itoa(len(parts))
	var rebuilt []string
	for i, p := range parts {
		assert.LessOrEqual(t, len(p), 100)
		label := "[" + strconv.Itoa(i+1) + "/" + n + "]\n"
		require.True(t, strings.HasPrefix(p, label), p)
		body := strings.TrimPrefix(p, label)
		for _, l := range strings.Split(body, "\n") {
			assert.Len(t, l, 30, "lines are never cut")
		}
		rebuilt = append(rebuilt, body)
	}
	assert.Equal(t, strings.TrimRight(text, "\n"), strings.Join(rebuilt, "\n"))
}

func TestSplitHardCutsLongLinesOnRuneBoundaries(t *testing.T) {
	text := strings.Repeat("₹", 100) // 3 bytes each
	parts := Split(text, 64)
	var joined strings.Builder
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 64)
		joined.WriteString(p[strings.Index(p, "\n")+1:])
	}
	assert.Equal(t, text, joined.String())
}

func TestTelegramSendsLabelledPartsInOrder(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body struct {
			ChatID string `json:"chat_id"`
			Text   string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body.ChatID)
		mu.Lock()
		texts = append(texts, body.Text)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(config.TelegramConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL, MaxMessageLen: 80}, nil)
	require.NoError(t, err)
	body := strings.Repeat("row of the strike table\n", 8)
	require.NoError(t, tg.Notify(context.Background(), "Analysis", body))

	require.Greater(t, len(texts), 1)
	assert.True(t, strings.HasPrefix(texts[0], "[1/"))
	assert.Contains(t, texts[0], "Analysis")
	last := texts[len(texts)-1]
	assert.True(t, strings.HasPrefix(last, "["+strconv.Itoa(len(texts))+"/"+strconv.Itoa(len(texts))+"]"))
}

func TestTelegramRejectionIsSinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(config.TelegramConfig{BotToken: "T", ChatID: "1", APIBase: srv.URL}, nil)
	require.NoError(t, err)
	err = tg.Notify(context.Background(), "", "hi")
	assert.True(t, fault.IsKind(err, fault.KindSink))
	assert.Contains(t, err.Error(), "chat not found")

	_, err = NewTelegram(config.TelegramConfig{}, nil)
	assert.True(t, fault.IsKind(err, fault.KindConfig))
}

func TestGeminiComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "KEY", r.Header.Get("x-goog-api-key"))
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "role", req.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "data", req.Contents[0].Parts[0].Text)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"market "},{"text":"read"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(config.AIConfig{APIKey: "KEY", Model: "gemini-test", BaseURL: srv.URL, Timeout: time.Second}, nil)
	require.NoError(t, err)
	out, err := g.Complete(context.Background(), "role", "data")
	require.NoError(t, err)
	assert.Equal(t, "market read", out)
}

func TestGeminiFailures(t *testing.T) {
	status := http.StatusTooManyRequests
	body := `{"error":{"message":"quota"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	g, err := NewGemini(config.AIConfig{APIKey: "KEY", Model: "m", BaseURL: srv.URL, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), "", "x")
	assert.True(t, fault.IsKind(err, fault.KindSink))

	status, body = http.StatusOK, `{"candidates":[]}`
	_, err = g.Complete(context.Background(), "", "x")
	assert.True(t, fault.IsKind(err, fault.KindSink))

	_, err = NewGemini(config.AIConfig{}, nil)
	assert.True(t, fault.IsKind(err, fault.KindConfig))
}

// smtpServer accepts one session and records the DATA payload.
func smtpServer(t *testing.T) (string, <-chan string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	got := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 test ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 test")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var data strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil || l == ".\r\n" {
						break
					}
					data.WriteString(l)
				}
				got <- data.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()
	return ln.Addr().String(), got
}

func TestEmailDeliversEscapedHTML(t *testing.T) {
	addr, got := smtpServer(t)
	host, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)

	em, err := NewEmail(config.EmailConfig{
		Host: host, Port: p, From: "bot@example.com", To: []string{"desk@example.com"},
		Timeout: 5 * time.Second, SubjectPrefix: "[ChainPulse]",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, em.Notify(context.Background(), "NIFTY", "PCR < 0.7 & rising"))

	select {
	case data := <-got:
		assert.Contains(t, data, "Subject: [ChainPulse] NIFTY")
		assert.Contains(t, data, "Content-Type: text/html; charset=UTF-8")
		assert.Contains(t, data, "PCR &lt; 0.7 &amp; rising")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailDialFailureIsSinkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	em, err := NewEmail(config.EmailConfig{Host: "127.0.0.1", Port: addr.Port, From: "a@b", To: []string{"c@d"}, Timeout: time.Second}, nil)
	require.NoError(t, err)
	err = em.Notify(context.Background(), "s", "b")
	assert.True(t, fault.IsKind(err, fault.KindSink))
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(BuildMessage("a@b", []string{"c@d", "e@f"}, "Analysis ₹", "line1\nline2", time.Date(2024, 11, 14, 10, 0, 0, 0, time.UTC)))
	assert.Contains(t, msg, "To: c@d, e@f\r\n")
	assert.Contains(t, msg, "Subject: =?utf-8?q?Analysis_=E2=82=B9?=\r\n")
	assert.Contains(t, msg, "line1\r\nline2")
}
