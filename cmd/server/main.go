package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"agora-server/internal/auth"
	"agora-server/internal/config"
	"agora-server/internal/gates"
	"agora-server/internal/hub"
	"agora-server/internal/identity"
	"agora-server/internal/moderation"
	"agora-server/internal/server"
	"agora-server/internal/spam"
	"agora-server/internal/store"
	"agora-server/internal/witness"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	chain := witness.NewWithOptions(witness.Options{StateFile: cfg.WitnessStateFile})
	published := store.New()
	queue := moderation.New(chain, published)

	registry := identity.NewRegistry(identity.Options{
		ChallengeTTL: cfg.ChallengeTTL,
		TokenTTL:     cfg.TokenExpiry,
		TokenConfig: auth.TokenConfig{
			Secret: cfg.MasterSecret,
			Expiry: cfg.TokenExpiry,
			Issuer: "agora-server",
		},
		AdminAllowlist: cfg.AdminAllowlist,
	})

	evaluator := gates.NewEvaluator(gates.Thresholds{
		StructuralRigor: cfg.GateRigorThreshold,
		BuildArtifacts:  cfg.GateArtifactsThreshold,
		TelosAlignment:  cfg.GateTelosThreshold,
	})

	router := server.NewRouter(server.Deps{
		Config:   cfg,
		Registry: registry,
		Queue:    queue,
		Store:    published,
		Chain:    chain,
		Gates:    evaluator,
		Spam:     spam.New(),
		Hub:      hub.New(),
	})
	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	log.Fatal(server.Run(cfg, router))
}
