// Command bridgetoken mints a bearer token for a messaging bridge. The token
// authorizes POST /api/v1/events and GET /ws.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/internal/auth"
)

func main() {
	bridgeID := flag.String("bridge", "", "bridge id embedded in the token")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	_ = godotenv.Load()

	issuer, err := auth.NewIssuer(os.Getenv("BRIDGE_JWT_SECRET"), *ttl)
	if err != nil {
		logger.Fatal("Invalid BRIDGE_JWT_SECRET", zap.Error(err))
	}

	token, expiresAt, err := issuer.GenerateBridgeToken(*bridgeID)
	if err != nil {
		logger.Fatal("Failed to generate bridge token", zap.Error(err))
	}

	logger.Info("Bridge token generated",
		zap.String("bridgeId", *bridgeID),
		zap.Time("expiresAt", expiresAt))
	fmt.Println(token)
}
