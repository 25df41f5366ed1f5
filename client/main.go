package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/realtime"
)

type tokenResponse struct {
	Token string `json:"token"`
}

func issueToken(apiAddr, password string) (string, error) {
	resp, err := http.Post(apiAddr+"/api/v1/auth/token?password="+url.QueryEscape(password), "application/json", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed: %s", string(body))
	}

	var env struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	return env.Data.Token, nil
}

type frame struct {
	ID       string          `json:"id"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Response *model.Envelope `json:"response"`
}

func printFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Printf("Received raw: %s", raw)
		return
	}
	switch f.Event {
	case model.EventNewMessage:
		var m model.Message
		if err := json.Unmarshal(f.Data, &m); err == nil {
			who := "unknown"
			if m.Handle != nil {
				who = m.Handle.Address
			}
			if m.IsFromMe {
				who = "me"
			}
			fmt.Printf("\r%s: %s\n> ", who, m.Text)
			return
		}
	case model.EventTypingStarted:
		fmt.Printf("\rtyping...      \n> ")
		return
	case model.EventTypingStopped:
		return
	}
	if f.Response != nil {
		if f.Response.Error != nil {
			fmt.Printf("\r[%s #%s] %d %s\n> ", f.Event, f.ID, f.Response.Status, f.Response.Error.Message)
		}
		return
	}
	fmt.Printf("\r[%s] %s\n> ", f.Event, f.Data)
}

func main() {
	serverAddr := flag.String("addr", "localhost:1234", "bridge address")
	password := flag.String("password", os.Getenv("MSGBRIDGE_PASSWORD"), "bridge password")
	chatGUID := flag.String("chat", "", "chat guid to join and send to")
	useToken := flag.Bool("token", false, "exchange the password for a bearer token first")
	flag.Parse()

	if *chatGUID == "" {
		log.Fatal("-chat is required")
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/api/v1/ws"}
	header := http.Header{}
	if *useToken {
		token, err := issueToken("http://"+*serverAddr, *password)
		if err != nil {
			log.Fatal("Token request failed:", err)
		}
		header.Add("Authorization", "Bearer "+token)
	} else {
		q := u.Query()
		q.Set("password", *password)
		u.RawQuery = q.Encode()
	}
	log.Printf("connecting to %s", u.Host+u.Path)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	send := func(event string, data any) error {
		return c.WriteJSON(map[string]any{"id": uuid.NewString(), "event": event, "data": data})
	}
	if err := send(realtime.ActionJoinRoom, map[string]string{"chatGuid": *chatGUID}); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			printFrame(message)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			var err error
			switch text {
			case "":
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/typing":
				err = send(realtime.ActionStartTyping, map[string]string{"chatGuid": *chatGUID})
			case "/stop":
				err = send(realtime.ActionStopTyping, map[string]string{"chatGuid": *chatGUID})
			case "/read":
				err = send(realtime.ActionMarkChatRead, map[string]string{"chatGuid": *chatGUID})
			default:
				err = send(realtime.ActionSendMessage, map[string]string{
					"chatGuid": *chatGUID,
					"tempGuid": uuid.NewString(),
					"message":  text,
				})
			}
			if err != nil {
				log.Println("write:", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
