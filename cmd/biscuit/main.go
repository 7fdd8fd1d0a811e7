// Command biscuit is a demo CLI exercising the token package end to end:
// mint a token, attenuate it, seal it, authorize a request against it, or
// inspect one without verifying it. It is not meant to replace the Go API
// for embedding — see the token package for that.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/certen/biscuit/block"
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/runtime"
	"github.com/certen/biscuit/internal/telemetry"
	"github.com/certen/biscuit/token"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := runtime.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "biscuit: config:", err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "biscuit: logger:", err)
		os.Exit(1)
	}
	telemetry.SetGlobalLogger(logger)

	metrics, metricsSrv, err := runtime.StartMetricsServer(cfg.MetricsAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "biscuit: metrics:", err)
		os.Exit(1)
	}
	telemetry.SetGlobalMetrics(metrics)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	invocation := uuid.NewString()
	log := logger.WithComponent("cmd/biscuit").WithCorrelationID(invocation)

	cmd := os.Args[1]
	args := os.Args[2:]

	var runErr error
	switch cmd {
	case "new":
		runErr = runNew(cfg, args)
	case "attenuate":
		runErr = runAttenuate(cfg, args)
	case "seal":
		runErr = runSeal(cfg, args)
	case "authorize":
		runErr = runAuthorize(cfg, args)
	case "inspect":
		runErr = runInspect(cfg, args)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "biscuit: unknown subcommand %q\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if runErr != nil {
		log.WithError(runErr).Error("subcommand failed", telemetry.Field{Key: "subcommand", Value: cmd})
		fmt.Fprintf(os.Stderr, "biscuit %s: %v\n", cmd, runErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: biscuit <subcommand> [flags]

subcommands:
  new        mint a token with a single authority block
  attenuate  append a block to an existing token
  seal       consume an open token's proof secret into a final signature
  authorize  evaluate a token against an authorizer's facts/checks/policies
  inspect    decode a token without verifying it`)
}

func algorithmFlag(fs *flag.FlagSet, name, help string) *string {
	return fs.String(name, "", help+" (ed25519 or secp256r1; defaults to BISCUIT_DEFAULT_ALGORITHM)")
}

func resolveAlgorithm(cfg *runtime.Config, flagValue string) (chainsig.Algorithm, error) {
	switch flagValue {
	case "":
		return cfg.Algorithm()
	case "ed25519":
		return chainsig.AlgorithmEd25519, nil
	case "secp256r1":
		return chainsig.AlgorithmSecp256r1, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", flagValue)
	}
}

func runNew(cfg *runtime.Config, args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	blockFilePath := fs.String("block", "", "path to a JSON block file (facts/checks/context)")
	rootKeyIn := fs.String("root-key-in", "", "path to an existing root private key file; generated if empty")
	rootKeyOut := fs.String("root-key-out", "", "path to write the root private key (required if -root-key-in is empty)")
	rootPubOut := fs.String("root-pub-out", "", "path to write the root public key")
	algFlag := algorithmFlag(fs, "next-algorithm", "algorithm for the generated next keypair")
	out := fs.String("out", "", "path to write the encoded token (stdout if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *blockFilePath == "" {
		return fmt.Errorf("-block is required")
	}

	ctxAnnotation, facts, checks, err := loadBlockFile(*blockFilePath)
	if err != nil {
		return err
	}
	payload, err := block.NewDatalogBlock(block.WriteVersion, ctxAnnotation, nil, nil, facts, nil, checks, nil)
	if err != nil {
		return err
	}

	nextAlg, err := resolveAlgorithm(cfg, *algFlag)
	if err != nil {
		return err
	}

	var rootSecret chainsig.PrivateKey
	var rootPub chainsig.PublicKey
	if *rootKeyIn != "" {
		rootSecret, err = readPrivateKeyFile(*rootKeyIn)
		if err != nil {
			return err
		}
		rootPub = rootSecret.Public()
	} else {
		if *rootKeyOut == "" {
			return fmt.Errorf("-root-key-out is required when -root-key-in is not given")
		}
		rootAlg, err := resolveAlgorithm(cfg, "")
		if err != nil {
			return err
		}
		rootSecret, rootPub, err = chainsig.GenerateKeyPair(rootAlg, rand.Reader)
		if err != nil {
			return err
		}
		if err := writeKeyFile(*rootKeyOut, rootAlg, rootSecret.Bytes()); err != nil {
			return err
		}
	}
	if *rootPubOut != "" {
		if err := writeKeyFile(*rootPubOut, rootPub.Algorithm, rootPub.Bytes); err != nil {
			return err
		}
	}

	tok, err := token.New(rootSecret, nextAlg, payload, rand.Reader)
	if err != nil {
		return err
	}
	return writeToken(tok, *out)
}

func runAttenuate(cfg *runtime.Config, args []string) error {
	fs := flag.NewFlagSet("attenuate", flag.ExitOnError)
	in := fs.String("in", "", "path to the token to attenuate (required)")
	rootPubIn := fs.String("root-pub-in", "", "path to the root public key used to verify the token (required)")
	blockFilePath := fs.String("block", "", "path to a JSON block file (facts/checks/context)")
	thirdPartyKeyIn := fs.String("third-party-key-in", "", "if set, co-sign this block as a third party using this private key file")
	algFlag := algorithmFlag(fs, "next-algorithm", "algorithm for the generated next keypair")
	out := fs.String("out", "", "path to write the encoded token (stdout if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *rootPubIn == "" || *blockFilePath == "" {
		return fmt.Errorf("-in, -root-pub-in, and -block are required")
	}

	rootPub, err := readPublicKeyFile(*rootPubIn)
	if err != nil {
		return err
	}
	tok, err := decodeTokenFile(*in, rootPub)
	if err != nil {
		return err
	}

	ctxAnnotation, facts, checks, err := loadBlockFile(*blockFilePath)
	if err != nil {
		return err
	}
	payload, err := block.NewDatalogBlock(block.WriteVersion, ctxAnnotation, nil, nil, facts, nil, checks, nil)
	if err != nil {
		return err
	}

	nextAlg, err := resolveAlgorithm(cfg, *algFlag)
	if err != nil {
		return err
	}

	var next *token.Token
	if *thirdPartyKeyIn != "" {
		thirdPartySecret, err := readPrivateKeyFile(*thirdPartyKeyIn)
		if err != nil {
			return err
		}
		next, err = tok.AttenuateThirdParty(payload, thirdPartySecret, nextAlg, rand.Reader)
		if err != nil {
			return err
		}
	} else {
		next, err = tok.Attenuate(payload, nextAlg, rand.Reader)
		if err != nil {
			return err
		}
	}
	return writeToken(next, *out)
}

func runSeal(cfg *runtime.Config, args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	in := fs.String("in", "", "path to the token to seal (required)")
	rootPubIn := fs.String("root-pub-in", "", "path to the root public key used to verify the token (required)")
	out := fs.String("out", "", "path to write the encoded token (stdout if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *rootPubIn == "" {
		return fmt.Errorf("-in and -root-pub-in are required")
	}

	rootPub, err := readPublicKeyFile(*rootPubIn)
	if err != nil {
		return err
	}
	tok, err := decodeTokenFile(*in, rootPub)
	if err != nil {
		return err
	}
	sealed, err := tok.Seal()
	if err != nil {
		return err
	}
	return writeToken(sealed, *out)
}

func runAuthorize(cfg *runtime.Config, args []string) error {
	fs := flag.NewFlagSet("authorize", flag.ExitOnError)
	in := fs.String("in", "", "path to the token to authorize (required)")
	rootPubIn := fs.String("root-pub-in", "", "path to the root public key used to verify the token (required)")
	authorizerPath := fs.String("authorizer", "", "path to a JSON authorizer file (facts/checks/policies)")
	maxFacts := fs.Int("max-facts", 0, "resolution fact-count limit (0 means unbounded)")
	maxIterations := fs.Int("max-iterations", 0, "resolution iteration limit (0 means unbounded)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *rootPubIn == "" || *authorizerPath == "" {
		return fmt.Errorf("-in, -root-pub-in, and -authorizer are required")
	}

	rootPub, err := readPublicKeyFile(*rootPubIn)
	if err != nil {
		return err
	}
	tok, err := decodeTokenFile(*in, rootPub)
	if err != nil {
		return err
	}

	facts, checks, policies, err := loadAuthorizerFile(*authorizerPath)
	if err != nil {
		return err
	}

	limits := datalog.Limits{}
	if *maxFacts > 0 {
		limits.MaxFacts = maxFacts
	}
	if *maxIterations > 0 {
		limits.MaxIterations = maxIterations
	}

	_, err = tok.Authorize(facts, nil, checks, policies, limits)
	if err != nil {
		if e, ok := errs.As(err); ok {
			fmt.Printf("denied: [%s/%s] %s\n", e.Kind, e.Code, e.Message)
		} else {
			fmt.Printf("denied: %v\n", err)
		}
		return nil
	}
	fmt.Println("allowed")
	return nil
}

func runInspect(cfg *runtime.Config, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	in := fs.String("in", "", "path to the token to inspect (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	data, err := readTokenString(*in)
	if err != nil {
		return err
	}
	raw, err := decodeTokenString(data)
	if err != nil {
		return err
	}
	u, err := token.FromBytesUnverified(raw)
	if err != nil {
		return err
	}
	fmt.Printf("block count: %d\n", u.BlockCount())
	for i, fact := range u.AllFacts() {
		fmt.Printf("  fact[%d]: %s\n", i, fact.Predicate.String())
	}
	return nil
}
