// bot is a test gateway: it connects to a running server, fires triggers and
// prints the replies. Useful for poking at claim limits from the shell.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"actionforge.gg/internal/protocol"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "gateway name")
		definition = flag.String("definition", "", "definition id to trigger (required)")
		principal  = flag.String("principal", "", "principal id (required)")
		location   = flag.String("location", "", "location id (optional)")
		count      = flag.Int("count", 1, "number of triggers to fire")
		parallel   = flag.Bool("parallel", false, "fire all triggers at once instead of sequentially")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *definition == "" || *principal == "" {
		logger.Fatalf("missing -definition or -principal")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		GatewayName:     *name,
	}
	hello.Capabilities.MaxQueue = 64
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("unexpected handshake reply: %s", msg)
	}
	logger.Printf("WELCOME engine_id=%s", welcome.EngineID)

	// Replies arrive out of order when -parallel; collect them by req_id.
	var wg sync.WaitGroup
	wg.Add(*count)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var reply protocol.ReplyMsg
			if err := json.Unmarshal(raw, &reply); err != nil || reply.Type != protocol.TypeReply {
				continue
			}
			printReply(reply)
			wg.Done()
		}
	}()

	fire := func() {
		trig := protocol.TriggerMsg{
			Type:            protocol.TypeTrigger,
			ProtocolVersion: protocol.Version,
			ReqID:           uuid.NewString(),
			DefinitionID:    *definition,
			PrincipalID:     *principal,
			LocationID:      *location,
		}
		if err := conn.WriteJSON(trig); err != nil {
			logger.Fatalf("send TRIGGER: %v", err)
		}
	}

	for i := 0; i < *count; i++ {
		fire()
		if !*parallel && i < *count-1 {
			time.Sleep(50 * time.Millisecond)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Fatalf("timed out waiting for replies")
	}
}

func printReply(r protocol.ReplyMsg) {
	if !r.OK {
		fmt.Printf("req=%s FAIL code=%s message=%q\n", r.ReqID, r.Code, r.Message)
		return
	}
	fmt.Printf("req=%s OK payloads=%d\n", r.ReqID, len(r.Payloads))
	for i, p := range r.Payloads {
		content := strings.ReplaceAll(p.Content, "\n", "\\n")
		fmt.Printf("  [%d] %s\n", i, content)
		for _, el := range p.Elements {
			fmt.Printf("      %s %q -> %s\n", el.Kind, el.Label, el.DefinitionID)
		}
	}
}
