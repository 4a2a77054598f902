package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/e6grab/e6grab/internal/utils"
	"github.com/e6grab/e6grab/pkg/catalog/e621"
	"github.com/e6grab/e6grab/pkg/queue"
	"github.com/e6grab/e6grab/pkg/whttp"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	      __                      _
	  ___/ /_  ____ __________ _/ /_
	 / _ \ __ \/ __ '/ ___/ __ '/ __ \
	/  __/ /_/ / /_/ / /  / /_/ / /_/ /
	\___/\____/\__, /_/   \__,_/_.___/
	          /____/

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "e6grab",
	Short: "Mirror pools, posts, searches and favorites from e621.",
	Long: LOGO + `e6grab downloads the pools, posts, saved searches and user favorites listed in a
request file into a local folder tree, skipping everything already on disk.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.e6grab.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Defaults go first so a freshly created config file lists every key.
	viper.SetDefault("username", "")
	viper.SetDefault("api_key", "")
	viper.SetDefault("blacklist", []string{})
	viper.SetDefault("base_url", e621.DefaultBaseURL)
	viper.SetDefault("user_agent", e621.DefaultUserAgent)
	viper.SetDefault("page_size", e621.DefaultPageSize)
	viper.SetDefault("search_limit", queue.DefaultSearchLimit)
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("request_interval_ms", int(e621.DefaultRequestInterval/time.Millisecond))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".e6grab")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("e6grab")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.e6grab.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// newCatalogClient builds the API client from the config and the global
// proxy flag.
func newCatalogClient(cmd *cobra.Command) (*e621.Client, error) {
	client, err := e621.NewClient(e621.Options{
		BaseURL:         viper.GetString("base_url"),
		Username:        viper.GetString("username"),
		APIKey:          viper.GetString("api_key"),
		UserAgent:       viper.GetString("user_agent"),
		PageSize:        viper.GetInt("page_size"),
		RequestInterval: time.Duration(viper.GetInt("request_interval_ms")) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	proxy, _ := cmd.Flags().GetString("proxy")
	if err := whttp.SetupProxy(proxy, client.HTTPClients()...); err != nil {
		return nil, err
	}
	return client, nil
}
