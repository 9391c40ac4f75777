package main

import (
	"flag"
	"log"
	"os"
	"time"

	"go-chat-hub/internal/auth"
	"go-chat-hub/internal/client"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	url := flag.String("url", "ws://localhost:9876/ws", "hub websocket endpoint")
	token := flag.String("token", "", "bearer token presented on connect")
	subject := flag.String("subject", "", "mint a token for this subject id instead of passing -token")
	email := flag.String("email", "", "email carried by a minted token")
	secret := flag.String("secret", os.Getenv("APP_SECRET"), "shared secret used to mint a token")
	flag.Parse()

	if *token == "" && *subject != "" {
		if *secret == "" {
			log.Fatal("-secret (or APP_SECRET) is required with -subject")
		}
		minted, err := auth.NewIdentityGate(*secret).GenerateToken(*subject, auth.TokenOptions{
			Email: *email,
			Role:  "user",
			TTL:   12 * time.Hour,
		})
		if err != nil {
			log.Fatal(err)
		}
		*token = minted
	}

	ch := make(chan tea.Msg, 16)
	ws, err := client.Dial(*url, *token, ch)
	if err != nil {
		log.Fatal(err)
	}
	ws.Start()

	p := tea.NewProgram(client.NewModel(ws, ch))
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
