// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamforge-ai/modelinstaller/internal/assets"
	"github.com/dreamforge-ai/modelinstaller/pkg/installer"
)

const rootEnvHint = installer.RootEnvVar

const licenseText = `By downloading the Stable Diffusion weight files from the official
Hugging Face repository, you agree to have read and accepted the
CreativeML Responsible AI License. The license terms are located here:

   https://huggingface.co/spaces/CompVis/stable-diffusion-license`

func newInstallCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		outdir      string
		skipWeights bool
		skipSupport bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Set up the runtime directory and download model weights",
		Long: `Prepares the DreamForge runtime directory, writes the initialization
file, and downloads the selected model weight files with resumable
transfers. The run may be interrupted at any point and resumed later;
partially downloaded files pick up where they left off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(ctx, ro, outdir, skipWeights, skipSupport)
		},
	}

	cmd.Flags().StringVarP(&outdir, "outdir", "o", "", "Default directory for image outputs")
	cmd.Flags().BoolVar(&skipWeights, "skip-weights", false, "Skip downloading the large diffusion weight files")
	cmd.Flags().BoolVar(&skipSupport, "skip-support", false, "Skip downloading the auxiliary support models")

	return cmd
}

func runInstall(ctx context.Context, ro *RootOpts, outdir string, skipWeights, skipSupport bool) error {
	panel(`Welcome to DreamForge

This program will help download the Stable Diffusion weight files and
other large models that are needed for text to image generation. At any
point you may interrupt it and resume later.`)

	paths := installer.NewPaths(ro.Root, outdir)
	if err := ensureRuntimeDir(&paths, ro, outdir); err != nil {
		return err
	}

	catalog, err := installer.LoadCatalog(paths.CatalogFile)
	if err != nil {
		return err
	}

	cfg := installer.DefaultSettings()
	cfg.Token = resolveAuth(ctx, ro, paths)

	progress, closeProgress := newProgress(ro)
	defer closeProgress()
	inst := installer.New(catalog, paths, cfg, progress)

	// Optimistically install everything selected; collect errors and
	// keep going so one gated repo does not abort the rest.
	var failures []error

	if skipWeights {
		rule("SKIPPING DIFFUSION WEIGHTS DOWNLOAD PER USER REQUEST")
	} else {
		ids := selectModels(ro, catalog)
		if len(ids) > 0 {
			migrateLegacyWeights(ro, paths, catalog)
			rule("DOWNLOADING DIFFUSION WEIGHTS")
			outcomes := inst.Install(ctx, ids)
			for _, oc := range outcomes.Failed() {
				failures = append(failures, fmt.Errorf("%s: %w", oc.ID, oc.Err))
			}
			if len(outcomes.Succeeded()) > 0 {
				if err := inst.SyncRegistry(outcomes); err != nil {
					failures = append(failures, err)
				} else {
					fmt.Printf("Successfully updated model registry %s\n", paths.RegistryFile)
				}
			}
		}
	}

	if !skipSupport {
		rule("DOWNLOADING SUPPORT MODELS")
		failures = append(failures, inst.InstallSupportModels(ctx)...)
	}

	postscript(failures)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// ensureRuntimeDir validates the tree and, when incomplete, walks the
// user through initialization: output directory, NSFW checker default,
// directory creation, catalog seeding and the init file rewrite.
func ensureRuntimeDir(paths *installer.Paths, ro *RootOpts, outdir string) error {
	rule("Validating directory structure at " + paths.Root)
	missing := paths.Validate()
	for _, e := range paths.Entries() {
		mark := okMark("✓")
		for _, m := range missing {
			if m.Location == e.Location {
				mark = badMark("✗")
			}
		}
		fmt.Printf(" %s %s %s: %s\n", mark, e.Description, e.Kind, e.Location)
	}
	fmt.Println()
	if len(missing) == 0 {
		return nil
	}

	rule("Configuring DreamForge at " + paths.Root)
	if !ro.Yes && outdir == "" {
		for {
			fmt.Printf("Image outputs will be placed into %s\n", paths.OutDir)
			if askYN("Accept this location?", true) {
				break
			}
			dir := askString("Select the default directory for image outputs", paths.OutDir)
			*paths = installer.NewPaths(paths.Root, dir)
		}
	}
	fmt.Printf("You may change the chosen directory at any time by editing the --outdir option in %s.\n", paths.InitFile)
	fmt.Printf("You may also change the runtime directory by setting the environment variable %s.\n\n", rootEnvHint)

	nsfw := nsfwCheckerChoice(ro, *paths)

	if err := paths.Initialize(assets.DefaultCatalog()); err != nil {
		return err
	}
	fmt.Printf("Creating the initialization file at %q.\n\n", paths.InitFile)
	return paths.WriteInitFile(installer.InitFileOptions{NSFWChecker: nsfw})
}

func nsfwCheckerChoice(ro *RootOpts, paths installer.Paths) bool {
	panel(fmt.Sprintf(`The NSFW (not safe for work) checker blurs out images that potentially
contain sexual imagery. It can be selectively enabled at run time with
--nsfw_checker, and disabled with --no-nsfw_checker. The following
option sets whether the checker is enabled by default. Like other
options, you can change this setting later by editing %s.

The NSFW checker is NOT recommended for systems with less than 6G VRAM
because of its memory requirements.`, paths.InitFile))

	enabled := true
	if ro.Yes {
		fmt.Printf("Program was started with the --yes switch. NSFW checker is %s.\n", okMark("ON"))
		return enabled
	}
	return askYN("Enable the NSFW checker by default?", enabled)
}

// selectModels returns the catalog IDs to install, in catalog order.
// The first selected model becomes the registry default.
func selectModels(ro *RootOpts, catalog *installer.Catalog) []string {
	if ro.Yes {
		return catalog.Recommended()
	}

	panel(`You can download and configure the weight files manually or let this
program do it for you. You may download the recommended models, all
models, select a customized list, or completely skip this step.`)

	choice := askChoice("Download <r>ecommended models, <a>ll models, <c>ustomized list, or <s>kip this step?", []string{"r", "a", "c", "s"}, "r")

	for {
		var ids []string
		switch choice {
		case "a":
			ids = catalog.IDs()
		case "c":
			ids = customizedSelection(catalog)
		case "s":
			return nil
		default:
			ids = catalog.Recommended()
		}

		if len(ids) == 0 {
			return nil
		}
		fmt.Println("The following weight files will be downloaded:")
		for i, id := range ids {
			def := ""
			if i == 0 {
				def = "*"
			}
			fmt.Printf("   [%d] %s%s\n", i+1, id, def)
		}
		fmt.Println("*default")
		if askYN("Ok to download?", true) {
			return ids
		}
		if !askYN("Change your selection?", true) {
			return nil
		}
		choice = "c"
	}
}

func customizedSelection(catalog *installer.Catalog) []string {
	fmt.Println()
	fmt.Println("Choose the weight file(s) you wish to download. Before downloading you")
	fmt.Println("will be given the option to view and change your selections.")
	fmt.Println()

	var ids []string
	for i, m := range catalog.Models {
		rec := ""
		if m.Recommended {
			rec = " (recommended)"
		}
		fmt.Printf("[%d] %s:\n    %s%s\n", i+1, m.ID, m.Description, rec)
		if askYN("Download?", m.Recommended) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// resolveAuth accepts the weights license, finds or prompts for a Hub
// token, validates it against the Hub, and caches it for future runs.
// Returns "" when the user declines to supply one.
func resolveAuth(ctx context.Context, ro *RootOpts, paths installer.Paths) string {
	rule("License Agreement for Weight Files")
	panel(licenseText)
	if ro.Yes {
		fmt.Println("The program was started with a '--yes' flag, which indicates acceptance of the above License terms.")
	} else {
		for !askYN("Accept the above License terms?", true) {
			fmt.Println("Please accept the License or Ctrl+C to exit.")
		}
		fmt.Println("Thank you!")
	}

	rule("Authenticating to Hugging Face")
	token := installer.ResolveToken(paths, ro.Token)
	if token != "" {
		if name, err := whoami(ctx, token); err == nil {
			fmt.Printf("Hub token validated (account: %s).\n", name)
			_ = installer.SaveToken(paths, token)
			return token
		} else if errors.Is(err, installer.ErrUnauthorized) {
			fmt.Println(warnText("An existing Hub token was found but is no longer valid."))
			_ = installer.DeleteCachedToken(paths)
			token = ""
		} else {
			// Probably offline; keep the token and hope for the best.
			fmt.Printf("Could not validate the Hub token (%v). Continuing.\n", err)
			return token
		}
	}

	if ro.Yes {
		fmt.Println(warnText("No Hub token configured. Gated models may fail to download."))
		fmt.Printf("Set one of the environment variables %v, or re-run without '--yes' to enter it interactively.\n", installer.TokenEnvVars)
		return ""
	}

	panel(`You may optionally enter your Hugging Face token now. DreamForge will
work without it, but some weight files cannot be downloaded unless you
have accepted their license terms on the Hub while logged in.

Visit https://huggingface.co/settings/tokens to generate a token, then
paste it below, or press Enter to continue without one.`)

	for {
		token = readToken("Hub token ⮞")
		if token == "" {
			fmt.Println("None provided - continuing")
			return ""
		}
		name, err := whoami(ctx, token)
		if err == nil {
			fmt.Printf("Logged in as %s.\n", name)
			_ = installer.SaveToken(paths, token)
			return token
		}
		fmt.Printf("Failed to log in to the Hub: %v\n", err)
		if !askYN("Would you like to try again?", true) {
			fmt.Println("Re-run the installer whenever you wish to set the token.")
			return ""
		}
	}
}

func whoami(ctx context.Context, token string) (string, error) {
	cfg := installer.DefaultSettings()
	cfg.Token = token
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return installer.NewClient(cfg, nil).WhoAmI(ctx)
}

// migrateLegacyWeights offers to rename a pre-release "model.ckpt" to
// the catalog name the registry expects.
func migrateLegacyWeights(ro *RootOpts, paths installer.Paths, catalog *installer.Catalog) {
	legacy := paths.LegacyWeightsFile()
	if legacy == "" {
		return
	}
	desc, ok := catalog.Get("stable-diffusion-1.4")
	if !ok || desc.File == "" {
		return
	}
	fmt.Println(`You seem to have the Stable Diffusion v1.4 "model.ckpt" already installed.`)
	if ro.Yes || askYN(fmt.Sprintf("Ok to rename it to %q for future reference?", desc.File), true) {
		target := filepath.Join(paths.WeightsDir, desc.File)
		fmt.Printf("model.ckpt => %s\n", desc.File)
		if err := os.Rename(legacy, target); err != nil {
			fmt.Println(warnText("rename failed: " + err.Error()))
		}
	}
}

func postscript(failures []error) {
	fmt.Println()
	if len(failures) == 0 {
		rule("Model Installation Successful")
		panel(`You're all set! Run "dreamforge" to start generating images.

If you installed manually, activate the environment first, then start
either the web UI or the command-line interface.`)
		return
	}
	rule("There were errors during installation")
	fmt.Println("It is possible some of the models were not fully downloaded.")
	for _, err := range failures {
		fmt.Printf("\t- %v\n", err)
	}
	fmt.Println("Please check the messages above and correct any issues.")
	fmt.Println("Re-running the installer resumes interrupted downloads where they stopped.")
}
