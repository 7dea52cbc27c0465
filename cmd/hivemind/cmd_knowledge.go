package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hivemind/internal/knowledge"
	"hivemind/internal/policy"
)

var (
	ingestEntity     string
	ingestFact       string
	ingestConfidence float64
	ingestSession    string
	ingestTags       []string
	ingestSource     string

	verifyReinforcement float64

	challengeEntity     string
	challengeFact       string
	challengeConfidence float64
)

// ingestCmd records one observed fact.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record an observed fact, creating or reinforcing a knowledge item",
	Example: `  hivemind ingest --entity Paris --fact "is the capital of France" --source user
  hivemind ingest --entity redis --fact "listens on port 6379" --confidence 0.6 --tags infra`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestEntity == "" || ingestFact == "" {
			return fmt.Errorf("--entity and --fact are required")
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		// Agent-authored text goes through the guard policies first.
		if cfg.Policy.File != "" {
			enforcer := policy.NewEnforcer()
			if err := enforcer.LoadFile(cfg.Policy.File); err != nil {
				return err
			}
			for _, name := range enforcer.Policies() {
				if err := enforcer.CheckPolicy(name, ingestFact); err != nil {
					return fmt.Errorf("fact rejected: %w", err)
				}
			}
		}

		session := ingestSession
		if session == "" {
			session = uuid.NewString()
		}

		engine := knowledge.NewEngine(s)
		item, created, err := engine.Ingest(context.Background(), knowledge.IngestRequest{
			Entity:          ingestEntity,
			Fact:            knowledge.SanitizeFact(ingestFact),
			Confidence:      ingestConfidence,
			SourceSessionID: session,
			Tags:            ingestTags,
			Source:          knowledge.Source(ingestSource),
		})
		if err != nil {
			return err
		}

		verb := "reinforced"
		if created {
			verb = "created"
		}
		logger.Info("fact "+verb,
			zap.Int64("id", item.ID),
			zap.String("entity", item.Entity),
			zap.Float64("confidence", item.Confidence),
			zap.String("status", string(item.Status)),
			zap.String("session", session))

		// New items get their relationships discovered inline.
		if created {
			linker := knowledge.NewLinker(s, nil)
			n, err := linker.AutoLink(context.Background(), item)
			if err != nil {
				return err
			}
			logger.Info("relationships discovered", zap.Int("links", n))
		}
		return nil
	},
}

// verifyCmd applies a verification pass to one item.
var verifyCmd = &cobra.Command{
	Use:   "verify [id]",
	Short: "Verify a knowledge item, raising its confidence under the hallucination guard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		engine := knowledge.NewEngine(s)
		item, err := engine.Verify(context.Background(), id, verifyReinforcement)
		if err != nil {
			return err
		}
		logger.Info("item verified",
			zap.Int64("id", item.ID),
			zap.Float64("confidence", item.Confidence),
			zap.String("status", string(item.Status)))
		return nil
	},
}

// challengeCmd applies contradiction pressure from a competing fact.
var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Challenge existing facts about an entity with a competing fact",
	RunE: func(cmd *cobra.Command, args []string) error {
		if challengeEntity == "" || challengeFact == "" {
			return fmt.Errorf("--entity and --fact are required")
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		engine := knowledge.NewEngine(s)
		demoted, err := engine.Challenge(context.Background(), challengeEntity, challengeFact, challengeConfidence)
		if err != nil {
			return err
		}
		logger.Info("challenge applied",
			zap.String("entity", challengeEntity),
			zap.Int("demoted", demoted))
		return nil
	},
}

// promoteCmd moves one session item into the global scope.
var promoteCmd = &cobra.Command{
	Use:   "promote [id]",
	Short: "Promote a session-scoped item into the global hive mind scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		item, err := s.GetItem(context.Background(), id)
		if err != nil {
			return err
		}
		if item.IsGlobal() {
			return fmt.Errorf("item %d is already global", id)
		}

		gateway := knowledge.NewGateway(s)
		created, err := gateway.Promote(context.Background(), item)
		if err != nil {
			return err
		}
		if created {
			logger.Info("promoted to global scope", zap.Int64("id", id))
		} else {
			logger.Info("global item already existed; reinforced", zap.Int64("id", id))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestEntity, "entity", "", "entity the fact is about")
	ingestCmd.Flags().StringVar(&ingestFact, "fact", "", "fact text")
	ingestCmd.Flags().Float64Var(&ingestConfidence, "confidence", 0.5, "initial confidence")
	ingestCmd.Flags().StringVar(&ingestSession, "session", "", "source session id (generated if empty)")
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tags", nil, "comma-separated tags")
	ingestCmd.Flags().StringVar(&ingestSource, "source", string(knowledge.SourceAssistant),
		"assertion source: "+strings.Join([]string{
			string(knowledge.SourceUser), string(knowledge.SourceAssistant), string(knowledge.SourceSystem),
		}, ", "))

	verifyCmd.Flags().Float64Var(&verifyReinforcement, "reinforcement", knowledge.DefaultVerifyReinforcement,
		"confidence added by this verification")

	challengeCmd.Flags().StringVar(&challengeEntity, "entity", "", "entity under challenge")
	challengeCmd.Flags().StringVar(&challengeFact, "fact", "", "competing fact text")
	challengeCmd.Flags().Float64Var(&challengeConfidence, "confidence", 0.9, "confidence of the competing fact")
}
