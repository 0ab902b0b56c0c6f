package cli

import (
	"fmt"

	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing drivepdf configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration after file, environment and flag overrides",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with defaults",
	Long: `Write the default configuration to the config file so it can be edited.
Set sourceFolderId and destinationFolderId before the first run.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipSetup: "true"},
	RunE:        runConfigInit,
}

var (
	configInitForce  bool
	configInitSource string
	configInitDest   string
)

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing configuration file")
	configInitCmd.Flags().StringVar(&configInitSource, "source", "", "Source folder ID")
	configInitCmd.Flags().StringVar(&configInitDest, "destination", "", "Destination folder ID")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	return newOutput(cmd, "").WriteSuccess("config.show", appConfig.Redacted())
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := validateGlobalFlags(); err != nil {
		return err
	}

	path := globalFlags.Config
	if path == "" {
		var err error
		path, err = config.GetConfigPath()
		if err != nil {
			return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
		}
	}

	exists, err := afero.Exists(appFs, path)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}
	if exists && !configInitForce {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("Configuration file %s already exists; use --force to overwrite", path)).
			WithContext("path", path).
			Build())
	}

	configDir, err := config.GetConfigDir()
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}
	cfg := config.DefaultConfig(configDir)
	cfg.Profile = globalFlags.Profile
	cfg.SourceFolderID = configInitSource
	cfg.DestinationFolderID = configInitDest

	if err := cfg.Save(appFs, path); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
			fmt.Sprintf("Failed to write configuration: %v", err)).Build(), err)
	}

	out := newOutput(cmd, "")
	out.Log("Configuration written to %s", path)
	return out.WriteSuccess("config.init", map[string]interface{}{
		"path":   path,
		"config": cfg.Redacted(),
	})
}
