// Command operatortoken prints a signed token for the operator endpoints
// (/api/cron/... and /api/internal/...), using OPERATOR_SIGNING_KEY from the
// service configuration.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/olly-social/olly/internal/auth"
	"github.com/olly-social/olly/internal/config"
)

func main() {
	operator := flag.String("operator", "cron", "operator name embedded in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.New(config.WithDisableFlagsParsing(true))
	if err != nil {
		log.Fatal(err)
	}

	token, err := auth.New(nil, []byte(cfg.OperatorSigningKey)).BuildOperatorToken(*operator, *ttl)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(token)
}
