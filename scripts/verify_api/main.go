package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
)

type LoginResponse struct {
	Token string `json:"token"`
}

var apiAddr = "http://localhost:8081"

func main() {
	if v := os.Getenv("API_ADDR"); v != "" {
		apiAddr = v
	}

	// 1. Login both sides
	alice := login("alice")
	bob := login("bob")

	// 2. Open the direct chat
	var chat struct {
		ID string `json:"id"`
	}
	call(alice, http.MethodPost, "/chats", map[string]any{"members": []string{"bob"}}, &chat)
	log.Printf("Direct chat: %s", chat.ID)
	path := "/chats/" + url.PathEscape(chat.ID)

	// 3. Send a message
	var msg struct {
		ID string `json:"id"`
	}
	call(alice, http.MethodPost, path+"/messages", map[string]string{"text": "hello from verify_api"}, &msg)
	log.Printf("Sent message %s", msg.ID)

	// 4. Bob reads it
	var read json.RawMessage
	call(bob, http.MethodPost, path+"/read", nil, &read)
	log.Printf("Mark read: %s", read)

	// 5. History and presence
	var history json.RawMessage
	call(bob, http.MethodGet, path+"/messages", nil, &history)
	log.Printf("History: %s", history)

	var online json.RawMessage
	call(alice, http.MethodGet, "/presence", nil, &online)
	log.Printf("Online: %s", online)
}

func login(user string) string {
	var resp LoginResponse
	call("", http.MethodPost, "/login", map[string]string{"user_id": user}, &resp)
	fmt.Printf("Token for %s: %s...\n", user, resp.Token[:10])
	return resp.Token
}

func call(token, method, path string, in, out any) {
	var body io.Reader
	if in != nil {
		buf, _ := json.Marshal(in)
		body = bytes.NewBuffer(buf)
	}
	req, _ := http.NewRequest(method, apiAddr+path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s returned %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
