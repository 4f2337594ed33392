package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/pro-headshot/internal/archive"
	"github.com/fpang/pro-headshot/internal/boot"
	"github.com/fpang/pro-headshot/internal/config"
	"github.com/fpang/pro-headshot/internal/imageprep"
	"github.com/fpang/pro-headshot/internal/logging"
	"github.com/fpang/pro-headshot/internal/session"
	"github.com/fpang/pro-headshot/internal/styles"
)

// CLI flags
var (
	configFlag    string
	inputFlag     string
	styleFlag     string
	editFlags     []string
	outFlag       string
	bundleFlag    bool
	modelFlag     string
	transportFlag string
)

var rootCmd = &cobra.Command{
	Use:   "headshot-cli",
	Short: "Turn a portrait photo into a professional headshot",
	Long: `Headshot CLI runs the headshot workflow once from the terminal: the photo
is resized and re-encoded, sent to Gemini with the chosen style, optionally
refined with free-text edits, and the result is written as a PNG.

Examples:
  headshot-cli --input me.jpg --style corporate
  headshot-cli -i portrait.png -s tech --edit "make the smile subtler" --edit "warmer light"
  headshot-cli -i me.png --out ./headshots --bundle
  headshot-cli -i me.jpg   # Interactive mode - prompts for a style`,
	Run: runMain,
}

var stylesCmd = &cobra.Command{
	Use:   "styles",
	Short: "List the available style presets",
	Run: func(cmd *cobra.Command, args []string) {
		logging.Init()
		cfg, err := config.Load(configFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		catalog, err := styles.LoadFile(cfg.Styles.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load style catalog")
		}
		printStyles(catalog)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a YAML config file (default: ./headshot.yaml if present)")
	rootCmd.Flags().StringVarP(&inputFlag, "input", "i", "", "Portrait photo to transform (required)")
	rootCmd.Flags().StringVarP(&styleFlag, "style", "s", "", "Style preset ID (see 'headshot-cli styles')")
	rootCmd.Flags().StringArrayVarP(&editFlags, "edit", "e", nil, "Edit instruction applied after generation; repeatable")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", ".", "Directory to write the headshot to")
	rootCmd.Flags().BoolVar(&bundleFlag, "bundle", false, "Also write a ZIP of the original and every version")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model, overrides gemini.model")
	rootCmd.Flags().StringVar(&transportFlag, "transport", "", "Gemini transport (rest|sdk), overrides gemini.transport")
	_ = rootCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(stylesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	started := time.Now()
	logging.Init()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if modelFlag != "" {
		cfg.Gemini.Model = modelFlag
	}
	if transportFlag != "" {
		cfg.Gemini.Transport = transportFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := boot.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	boot.LogStartup("headshot-cli", commitHash, cfg, started)

	styleID := styleFlag
	if styleID == "" {
		styleID = promptForStyle(svc.Catalog)
	}
	preset, err := svc.Catalog.Lookup(styleID)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown style; run 'headshot-cli styles' to list them")
	}

	upload, closeInput, err := openUpload(inputFlag)
	if err != nil {
		log.Fatal().Err(err).Str("path", inputFlag).Msg("Failed to open input")
	}
	img, err := svc.Preprocessor.Preprocess(ctx, upload)
	closeInput()
	if err != nil {
		var ve *imageprep.ValidationError
		if errors.As(err, &ve) {
			log.Fatal().Str("path", inputFlag).Msg(ve.Message)
		}
		log.Fatal().Err(err).Str("path", inputFlag).Msg("Failed to preprocess input")
	}

	m := session.NewMachine(uuid.NewString(), svc.Adapter)
	if _, err := m.AcceptImage(img); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}

	fmt.Printf("Generating %q headshot with %s...\n", preset.Name, cfg.Gemini.Model)
	snap, err := m.SelectStyle(ctx, preset)
	if err != nil {
		log.Fatal().Err(err).Msg("Generation failed")
	}
	if snap.State != session.StateResult {
		log.Fatal().Str("reason", snap.Error).Msg("Generation failed")
	}

	for i, instruction := range editFlags {
		fmt.Printf("Applying edit %d/%d: %s\n", i+1, len(editFlags), instruction)
		snap, err = m.Edit(ctx, instruction)
		if err != nil {
			log.Fatal().Err(err).Msg("Edit rejected")
		}
		if snap.Error != "" {
			log.Warn().Str("reason", snap.Error).Str("instruction", instruction).Msg("Edit failed; keeping previous version")
			m.DismissError()
		}
	}

	if err := os.MkdirAll(outFlag, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", outFlag).Msg("Failed to create output directory")
	}

	now := time.Now()
	name, headshot, err := m.Download(now)
	if err != nil {
		log.Fatal().Err(err).Msg("No headshot to save")
	}
	outPath := filepath.Join(outFlag, name)
	if err := os.WriteFile(outPath, headshot.Data, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", outPath).Msg("Failed to write headshot")
	}
	fmt.Printf("Headshot saved to %s\n", outPath)

	if svc.Archiver != nil {
		if loc, err := svc.Archiver.Save(ctx, name, headshot); err != nil {
			log.Warn().Err(err).Msg("Failed to archive headshot")
		} else {
			fmt.Printf("Archived to %s\n", loc)
		}
	}

	if bundleFlag {
		final := m.Snapshot()
		bundlePath := filepath.Join(outFlag, archive.BundleName(now))
		if err := writeBundleFile(bundlePath, final, now); err != nil {
			log.Fatal().Err(err).Str("path", bundlePath).Msg("Failed to write bundle")
		}
		fmt.Printf("Bundle with %d version(s) saved to %s\n", len(final.History), bundlePath)
	}
}

// openUpload opens path as an Upload, typing it by extension and falling
// back to content sniffing.
func openUpload(path string) (imageprep.Upload, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return imageprep.Upload{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return imageprep.Upload{}, nil, err
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := f.Read(head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return imageprep.Upload{}, nil, err
		}
	}

	return imageprep.Upload{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Body:        f,
	}, func() { f.Close() }, nil
}

func writeBundleFile(path string, snap session.Snapshot, now time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := archive.WriteBundle(f, snap.Original, snap.History, now); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStyles(catalog *styles.Catalog) {
	for _, p := range catalog.All() {
		fmt.Printf("  %-10s %s - %s\n", p.ID, p.Name, p.Description)
	}
}

// promptForStyle asks the user to pick a preset by number or ID.
func promptForStyle(catalog *styles.Catalog) string {
	presets := catalog.All()
	fmt.Println()
	fmt.Println("Choose a style:")
	for i, p := range presets {
		fmt.Printf("  %d) %-10s %s\n", i+1, p.ID, p.Name)
	}
	fmt.Printf("Style [%s]: ", presets[0].ID)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read input, using the first style")
		return presets[0].ID
	}
	return resolveStyleChoice(presets, input)
}

// resolveStyleChoice maps a menu answer to a preset ID. Blank picks the
// first preset; numbers are 1-based; anything else is taken as an ID.
func resolveStyleChoice(presets []styles.Preset, input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return presets[0].ID
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(presets) {
		return presets[n-1].ID
	}
	return input
}
