// Package main is the entry point for the coin flip player client.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"coinflip-game/internal/chain"
	"coinflip-game/internal/config"
	"coinflip-game/internal/correlator"
	"coinflip-game/internal/matcher"
	"coinflip-game/internal/model"
	"coinflip-game/internal/pkg/logging"
	"coinflip-game/internal/session"
	"coinflip-game/internal/settlement"
	"coinflip-game/internal/xpclient"
)

func main() {
	flags := pflag.NewFlagSet("player", pflag.ExitOnError)
	configDir := flags.String("config", "config", "directory containing config.yaml")
	choiceFlag := flags.String("choice", "heads", "side to bet on (heads|tails)")
	wagerFlag := flags.String("wager", "0.01", "wager in ether")
	rounds := flags.Int("rounds", 1, "number of games to play")
	flags.String("rpc-url", "", "JSON-RPC endpoint")
	flags.String("contract", "", "coin flip contract address")
	flags.String("xp-api", "", "XP ledger base URL")
	flags.String("log-level", "", "log level")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	for key, name := range map[string]string{
		"chain.rpc_url":          "rpc-url",
		"chain.contract_address": "contract",
		"xp_api.base_url":        "xp-api",
		"log.level":              "log-level",
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}

	cfg, err := config.LoadWith(v, *configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.Log)

	choice, err := model.ParseSide(*choiceFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid choice")
	}
	wager, err := decimal.NewFromString(*wagerFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid wager")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress, cfg.Wallet.PrivateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain")
	}
	player, err := client.Account()
	if err != nil {
		log.Fatal().Err(err).Msg("A wallet is required to play; set WALLET_PRIVATE_KEY")
	}

	corr, err := correlator.New(client, cfg.Chain)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create correlator")
	}
	bounds := corr.Bounds(ctx)
	log.Info().
		Str("player", player).
		Str("contract", client.ContractAddress().Hex()).
		Str("min_wager", bounds.Min.String()).
		Str("max_wager", bounds.Max.String()).
		Bool("fallback_bounds", bounds.Fallback).
		Msg("Wallet connected")

	xp := xpclient.New(cfg.XPAPI)
	results := make(chan model.Result, 4)
	sess := session.New(session.Options{
		Player:       player,
		PollInterval: cfg.Poller.Interval,
		OnResult: func(r model.Result) {
			select {
			case results <- r:
			default:
				log.Warn().Str("game_id", r.GameID).Msg("Result dropped, nobody is waiting for it")
			}
		},
		OnLate: func(rec model.SettlementRecord) {
			log.Info().Str("game_id", rec.GameID).Bool("won", rec.Won).Msg("A timed out game has settled")
		},
	}, corr, settlement.NewPoller(client, cfg.Poller), matcher.New(cfg.Matcher.Timeout), xp)
	defer sess.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return play(gctx, sess, results, choice, wager, *rounds)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Player stopped with error")
		os.Exit(1)
	}

	if pending := sess.Snapshot().Unreported; len(pending) > 0 {
		log.Warn().Strs("game_ids", pending).Msg("Results not recorded by the ledger")
	}

	profile, err := xp.Profile(context.Background(), player)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load XP profile")
		return
	}
	log.Info().
		Int64("xp", profile.XP).
		Int("level", profile.Level).
		Int64("wins", profile.Wins).
		Int64("losses", profile.Losses).
		Msg("XP profile")
}

// play submits rounds games one after another, waiting for each result.
func play(ctx context.Context, sess *session.Session, results <-chan model.Result, choice model.Side, wager decimal.Decimal, rounds int) error {
	for i := 0; i < rounds; i++ {
		attempt, err := sess.Submit(ctx, choice, wager)
		if err != nil {
			return err
		}
		if attempt.Status != model.AttemptPending {
			log.Warn().Str("tx", attempt.TxHash).Msg(attempt.Message)
			continue
		}
		log.Info().
			Int("round", i+1).
			Str("game_id", attempt.GameID).
			Str("tx", attempt.TxHash).
			Str("choice", attempt.Choice.String()).
			Str("wager", attempt.WagerAmount.String()).
			Msg("Flip submitted, waiting for settlement")

		if err := awaitResult(ctx, results, attempt.GameID); err != nil {
			return err
		}
	}
	return nil
}

func awaitResult(ctx context.Context, results <-chan model.Result, gameID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r.GameID != gameID {
				continue
			}
			e := log.Info().
				Str("game_id", r.GameID).
				Str("outcome", string(r.Outcome)).
				Str("wagered", r.Wagered.String())
			if r.Side != nil {
				e = e.Str("side", r.Side.String()).Str("payout", r.Payout.String())
			}
			e.Msg("Game finished")
			return nil
		}
	}
}
