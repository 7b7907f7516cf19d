package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"ingredient-recognizer/internal/app"
	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/spf13/cobra"
)

// result CLI 輸出格式，與 HTTP 回應相同
type result struct {
	Status      string                       `json:"status"`
	Ingredients []common.ProcessedIngredient `json:"ingredients"`
}

func main() {
	var lang string
	var mode string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "recognize <image>",
		Short: "Recognize food ingredients in a photo",
		Long: `recognize reads a JPEG, PNG, GIF or WebP photo and prints the
ingredients found in it as JSON.

--mode vision asks the configured vision model directly.
--mode tags sends the photo to the tagging service and matches the
tags against the ingredient catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], lang, mode, logLevel)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&lang, "lang", "en", "Language of the ingredient names (en, it)")
	rootCmd.Flags().StringVar(&mode, "mode", "vision", "Recognition pipeline: vision or tags")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level written to stderr")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, path, lang, mode, logLevel string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	if err := common.InitLogger(logLevel, ""); err != nil {
		return fmt.Errorf("cannot initialize logger: %w", err)
	}
	defer common.Sync()

	services, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	img, err := services.Images.Load(path)
	if err != nil {
		return err
	}

	var out []common.ProcessedIngredient
	switch mode {
	case "vision":
		if services.Recognition == nil {
			return fmt.Errorf("vision recognition is not configured, set VISION_API_KEY")
		}
		out, err = services.Recognition.Recognize(ctx, img.Data, img.MIMEType, lang)
	case "tags":
		if services.Pipeline == nil {
			return fmt.Errorf("tag recognition is not configured, enable catalog and tagger")
		}
		out, err = services.Pipeline.Recognize(ctx, img.Data, img.MIMEType)
	default:
		return fmt.Errorf("unknown mode %q, expected vision or tags", mode)
	}
	if err != nil {
		return err
	}

	res := result{Status: "recognized", Ingredients: out}
	if len(out) == 0 {
		res = result{Status: "no_ingredients", Ingredients: []common.ProcessedIngredient{}}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
