package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"raffle/internal/blockchain"
	"raffle/internal/config"
	"raffle/internal/engine"
	"raffle/internal/logger"
	"raffle/internal/oracle"
	"raffle/internal/raffle"
	"raffle/internal/registrar"
	"raffle/internal/storage"
)

var (
	raffleFlag = cli.StringFlag{Name: "raffle", Usage: "raffle record address (hex)"}
	callerFlag = cli.StringFlag{Name: "caller", Usage: "caller account address"}
	oracleFlag = cli.StringFlag{Name: "oracle", Usage: "randomness oracle account address"}
	ownerFlag  = cli.StringFlag{Name: "owner", Usage: "owner account address"}
)

func main() {
	app := cli.NewApp()
	app.Name = "raffled"
	app.Usage = "ticketed raffle with commit-reveal randomness"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "env", Value: ".env", Usage: "dotenv file to load"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "configure",
			Usage: "create a raffle",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "authority", Usage: "authority account address"},
				cli.Uint64Flag{Name: "id", Usage: "raffle id, unique per authority"},
				cli.StringFlag{Name: "name", Usage: "raffle name"},
				cli.Uint64Flag{Name: "start", Usage: "sale start (unix seconds)"},
				cli.Int64Flag{Name: "end", Usage: "sale end (unix seconds)"},
				cli.Uint64Flag{Name: "price", Usage: "ticket price"},
				cli.Uint64Flag{Name: "max", Usage: "ticket capacity"},
				cli.Uint64Flag{Name: "per-buyer", Usage: "tickets allowed per buyer, 0 for no limit"},
				oracleFlag,
			},
			Action: withEngine(configure),
		},
		{
			Name:   "init-assets",
			Usage:  "mint the ticket collection",
			Flags:  []cli.Flag{raffleFlag, callerFlag},
			Action: withEngine(initializeAssets),
		},
		{
			Name:   "buy",
			Usage:  "buy one ticket",
			Flags:  []cli.Flag{raffleFlag, cli.StringFlag{Name: "buyer", Usage: "buyer account address"}},
			Action: withEngine(buyTicket),
		},
		{
			Name:  "commit",
			Usage: "commit the randomness seed",
			Flags: []cli.Flag{
				raffleFlag,
				callerFlag,
				cli.StringFlag{Name: "mode", Value: "real", Usage: "randomness mode: mock or real"},
				oracleFlag,
			},
			Action: withEngine(commitRandomness),
		},
		{
			Name:   "reveal",
			Usage:  "draw the winner",
			Flags:  []cli.Flag{raffleFlag, callerFlag},
			Action: withEngine(revealWinner),
		},
		{
			Name:   "claim",
			Usage:  "claim the prize",
			Flags:  []cli.Flag{raffleFlag, cli.StringFlag{Name: "claimant", Usage: "winner account address"}},
			Action: withEngine(claimPrize),
		},
		{
			Name:   "show",
			Usage:  "show a raffle, or the tickets of --owner in it",
			Flags:  []cli.Flag{raffleFlag, ownerFlag},
			Action: withEngine(show),
		},
		{
			Name:   "list",
			Usage:  "list raffles",
			Action: withEngine(list),
		},
		{
			Name:   "assets",
			Usage:  "list units minted to --owner",
			Flags:  []cli.Flag{ownerFlag},
			Action: withEngine(assets),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type action func(ctx context.Context, c *cli.Context, e *engine.Engine) error

// withEngine wires configuration, logging, storage, registrar and oracle around one
// command and cancels its context on interrupt.
func withEngine(run action) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("env"))
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Logger); err != nil {
			return err
		}
		defer logger.Sync()

		s, err := storage.NewSqliteStorage(cfg.Database)
		if err != nil {
			return err
		}
		defer s.Close()

		var dispatcher registrar.Dispatcher
		if cfg.WalletMnemonic != "" {
			relay, err := blockchain.NewRelay(cfg.WalletMnemonic, cfg.WalletVersion, cfg.MintRelayAddress)
			if err != nil {
				return err
			}
			dispatcher = relay
		}

		reg, err := registrar.New(s.DB(), cfg.RegistrarSecret, dispatcher)
		if err != nil {
			return err
		}

		source, err := oracle.NewTonapiSource(cfg.TonapiToken, cfg.OracleMethod)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-waitForInterrupt():
				logger.Warn("raffled: interrupted")
				cancel()
			case <-ctx.Done():
			}
		}()

		e := engine.New(s, reg, source, engine.NewSystemClock(), cfg.AllowMockRandomness)
		e.OnWinnerChosen(func(_ context.Context, event raffle.WinnerChosen) {
			fmt.Printf("winner chosen: raffle %d, ticket %d, %s\n", event.RaffleID, event.WinnerIndex, event.Winner.ToHuman(true, false))
		})

		if err := run(ctx, c, e); err != nil {
			logger.Error("raffled: command failed", zap.String("command", c.Command.Name), zap.Error(err))
			return err
		}
		return nil
	}
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}

func account(c *cli.Context, name string) (ton.AccountID, error) {
	value := c.String(name)
	if value == "" {
		return ton.AccountID{}, fmt.Errorf("--%s is required", name)
	}
	id, err := ton.ParseAccountID(value)
	if err != nil {
		return ton.AccountID{}, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

func optionalAccount(c *cli.Context, name string) (*ton.AccountID, error) {
	if c.String(name) == "" {
		return nil, nil
	}
	id, err := account(c, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func raffleKey(c *cli.Context) (raffle.Key, error) {
	value := c.String("raffle")
	if value == "" {
		return raffle.Key{}, fmt.Errorf("--raffle is required")
	}
	return raffle.ParseKey(value)
}

func configure(ctx context.Context, c *cli.Context, e *engine.Engine) error {
	authority, err := account(c, "authority")
	if err != nil {
		return err
	}
	pinned, err := optionalAccount(c, "oracle")
	if err != nil {
		return err
	}

	r, err := e.Configure(ctx, authority, raffle.Params{
		RaffleID:           c.Uint64("id"),
		Name:               c.String("name"),
		SaleStart:          c.Uint64("start"),
		SaleEnd:            c.Int64("end"),
		Price:              c.Uint64("price"),
		MaxTickets:         c.Uint64("max"),
		MaxTicketsPerBuyer: c.Uint64("per-buyer"),
		Oracle:             pinned,
	})
	if err != nil {
		return err
	}

	fmt.Println(r.Key())
	return nil
}

func initializeAssets(ctx context.Context, c *cli.Context, e *engine.Engine) error {
	key, err := raffleKey(c)
	if err != nil {
		return err
	}
	caller, err := account(c, "caller")
	if err != nil {
		return err
	}
	return e.InitializeAssets(ctx, key, caller)
}

func buyTicket(ctx context.Context, c *cli.Context, e *engine.Engine) error {
	key, err := raffleKey(c)
	if err != nil {
		return err
	}
	buyer, err := account(c, "buyer")
	if err != nil {
		return err
	}

	index, err := e.BuyTicket(ctx, key, buyer)
	if err != nil {
		return err
	}
	fmt.Printf("ticket %d\n", index)
	return nil
}

func commitRandomness(ctx context.Context, c *cli.Context, e *engine.Engine) error {
	key, err := raffleKey(c)
	if err != nil {
		return err
	}
	caller, err := account(c, "caller")
	if err != nil {
		return err
	}
	mode, err := raffle.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}
	address, err := optionalAccount(c, "oracle")
	if err != nil {
		return err
	}
	return e.CommitRandomness(ctx, key, caller, mode, address)
}

func revealWinner(ctx context.Context, c *cli.Context, e *engine.Engine) error {
	key, err := raffleKey(c)
	if err != nil {
		return err
	}
	caller, err := account(c, "caller")
	if err != nil {
		return err
	}
	_, err = e.RevealWinner(ctx, key, caller)
	return err
}

func claimPrize(ctx context.Context, c *cli.Context, e *engine.Engine) error {
	key, err := raffleKey(c)
	if err != nil {
		return err
	}
	claimant, err := account(c, "claimant")
	if err != nil {
		return err
	}
	if err := e.ClaimPrize(ctx, key, claimant); err != nil {
		return err
	}
	fmt.Println("prize claimed")
	return nil
}

func show(_ context.Context, c *cli.Context, e *engine.Engine) error {
	key, err := raffleKey(c)
	if err != nil {
		return err
	}

	owner, err := optionalAccount(c, "owner")
	if err != nil {
		return err
	}
	if owner != nil {
		tickets, err := e.TicketsOf(key, *owner)
		if err != nil {
			return err
		}
		fmt.Printf("tickets: %v\n", tickets)
		return nil
	}

	r, err := e.Get(key)
	if err != nil {
		return err
	}
	state, err := e.State(key)
	if err != nil {
		return err
	}
	printRaffle(r, state)
	return nil
}

func list(_ context.Context, _ *cli.Context, e *engine.Engine) error {
	raffles, err := e.List()
	if err != nil {
		return err
	}
	for _, r := range raffles {
		fmt.Printf("%s  %-50s  %d/%d  %s\n", r.Key(), r.Name(), r.TotalTicketsBought(), r.MaxTickets(), r.Phase())
	}
	return nil
}

func assets(_ context.Context, c *cli.Context, e *engine.Engine) error {
	owner, err := account(c, "owner")
	if err != nil {
		return err
	}
	units, err := e.Assets(owner)
	if err != nil {
		return err
	}
	for _, unit := range units {
		fmt.Printf("%s  %-10s  raffle %s  #%d\n", unit.Address, unit.Kind, unit.RaffleAddress, unit.Number)
	}
	return nil
}

func printRaffle(r *raffle.Raffle, state raffle.State) {
	fmt.Printf("address:    %s\n", r.Key())
	fmt.Printf("authority:  %s\n", r.Authority().ToHuman(true, false))
	fmt.Printf("id:         %d\n", r.ID())
	fmt.Printf("name:       %s\n", r.Name())
	fmt.Printf("sale:       %d .. %d\n", r.SaleStart(), r.SaleEnd())
	fmt.Printf("price:      %d\n", r.Price())
	fmt.Printf("tickets:    %d/%d\n", r.TotalTicketsBought(), r.MaxTickets())
	fmt.Printf("state:      %s\n", state)
	if r.RandomnessCommitted() {
		seed := r.Randomness()
		fmt.Printf("randomness: %x (%s)\n", seed, r.RandomnessSource())
	}
	if winner, index, ok := r.Winner(); ok {
		fmt.Printf("winner:     %s (ticket %d)\n", winner.ToHuman(true, false), index)
	}
	fmt.Printf("claimed:    %t\n", r.Claimed())
}
