package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/allocator"
	"github.com/aman-zulfiqar/solana-bundler/internal/config"
	"github.com/aman-zulfiqar/solana-bundler/internal/engine"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/quote"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

// transferFactory distributes each actor's allocated lamports to a fixed
// destination. The simplest instruction shape the builder can pack; real
// operation encodings plug in through the same interface.
type transferFactory struct {
	dest solana.PublicKey
}

func (f *transferFactory) Instructions(_ context.Context, line allocator.Line) ([]solana.Instruction, error) {
	return []solana.Instruction{
		newTransferIx(line.Actor.Address, f.dest, line.Amount),
	}, nil
}

func newTransferIx(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	// SystemProgram Transfer: u32 index (2), u64 lamports
	data := make([]byte, 12)
	data[0] = 2
	for i, b := range [8]byte{
		byte(lamports), byte(lamports >> 8), byte(lamports >> 16), byte(lamports >> 24),
		byte(lamports >> 32), byte(lamports >> 40), byte(lamports >> 48), byte(lamports >> 56),
	} {
		data[4+i] = b
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: from, IsSigner: true, IsWritable: true},
		{PublicKey: to, IsSigner: false, IsWritable: true},
	}
	return solana.NewInstruction(solana.SystemProgramID, accounts, data)
}

func main() {
	loadEnv()

	mode := flag.String("mode", "quote", "quote | run")
	reserveIn := flag.Uint64("reserve-in", 0, "input-side reserve (quote mode)")
	reserveOut := flag.Uint64("reserve-out", 0, "output-side reserve (quote mode)")
	amountIn := flag.Uint64("amount", 0, "input amount in base units")
	slippage := flag.Uint64("slippage", 10, "slippage tolerance in percent")
	keysPath := flag.String("keys", "", "file with one base58 actor key per line (run mode)")
	destStr := flag.String("dest", "", "destination address (run mode)")
	tablesStr := flag.String("tables", "", "comma-separated lookup table addresses to consider")
	heavy := flag.Bool("heavy", false, "pack with the smaller heavy-instruction batch size")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch *mode {
	case "quote":
		if *amountIn == 0 {
			fmt.Println("missing -amount (must be > 0)")
			os.Exit(2)
		}
		q := quote.Compute(*reserveIn, *reserveOut, *amountIn, *slippage)
		out, _ := json.MarshalIndent(q, "", "  ")
		fmt.Println(string(out))

	case "run":
		if *amountIn == 0 || *keysPath == "" || *destStr == "" {
			fmt.Println("run mode requires -amount, -keys and -dest")
			os.Exit(2)
		}
		dest, err := solana.PublicKeyFromBase58(*destStr)
		if err != nil {
			logger.WithError(err).Fatal("invalid destination address")
		}

		cfg := config.Load()
		if *heavy {
			// Heavier instruction shapes fit fewer actors per unit.
			cfg.BatchSize = cfg.HeavyBatchSize
		}
		eng, err := engine.NewEngine(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to init engine")
		}
		defer eng.Close()

		actors, err := loadActors(ctx, eng, *keysPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to load actors")
		}

		var tables []solana.PublicKey
		for _, t := range strings.Split(*tablesStr, ",") {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			pk, err := solana.PublicKeyFromBase58(t)
			if err != nil {
				logger.WithError(err).Fatalf("invalid table address %q", t)
			}
			tables = append(tables, pk)
		}

		outcome, err := eng.Execute(ctx, actors, *amountIn, &transferFactory{dest: dest}, tables)
		if err != nil {
			logger.WithError(err).Fatal("execution failed")
		}

		out, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(out))

	default:
		fmt.Printf("unknown mode %q\n", *mode)
		os.Exit(2)
	}
}

// loadActors reads actor keys and snapshots each balance from the ledger
func loadActors(ctx context.Context, eng *engine.Engine, path string) ([]*models.Actor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var actors []*models.Actor
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys, err := wallet.ParseKeypair(line)
		if err != nil {
			return nil, err
		}
		balance, err := eng.RPC().GetBalance(ctx, keys.PublicKey())
		if err != nil {
			// A balance we cannot read is treated as zero; the planner
			// drops the actor at the dust threshold.
			balance = 0
		}
		actors = append(actors, models.NewActor(keys, balance, fmt.Sprintf("actor-%d", len(actors)+1)))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return actors, nil
}
