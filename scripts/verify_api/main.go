package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
)

func get(apiAddr, path, password string, query url.Values) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("password", password)
	resp, err := http.Get(apiAddr + path + "?" + query.Encode())
	if err != nil {
		log.Fatalf("%s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	log.Printf("%s -> %d %s", path, resp.StatusCode, string(body))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func main() {
	apiAddr := flag.String("api", "http://localhost:1234", "bridge address")
	password := flag.String("password", os.Getenv("MSGBRIDGE_PASSWORD"), "bridge password")
	chat := flag.String("chat", "", "optional chat guid to fetch recent messages for")
	flag.Parse()

	get(*apiAddr, "/api/v1/ping", *password, nil)
	get(*apiAddr, "/api/v1/chat", *password, url.Values{"limit": {"5"}})
	if *chat != "" {
		get(*apiAddr, "/api/v1/chat/"+url.PathEscape(*chat)+"/message", *password, url.Values{"limit": {"5"}})
	}
	fmt.Println("ok")
}
