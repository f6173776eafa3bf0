// Command rowbind prepares and executes a query against MySQL or PostgreSQL
// and streams the result set through a rowbind cursor, printing rows as
// tab-separated text.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rowbind/rowbind"
	"github.com/rowbind/rowbind/mysql"
	"github.com/rowbind/rowbind/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "rowbind [flags] QUERY [PARAM...]",
	Short: "Run a query through a buffered, truncation-aware cursor",
	Long: `rowbind prepares and executes a query and streams the result set through
a rowbind cursor, printing a header line of column names followed by one
tab-separated line per row. Extra arguments are bound as query parameters.

The connection string comes from --dsn, the ROWBIND_DSN environment
variable, or the dsn key in ~/.rowbind/config.yaml, in that order. The
backend is inferred from the DSN scheme unless --driver is given.

Examples:
  rowbind --dsn mysql://root@localhost:3306/test "SELECT id, name FROM users"
  rowbind --dsn postgres://localhost/app "SELECT * FROM events WHERE kind = $1" click
  ROWBIND_DSN=mysql://localhost/test rowbind --max-rows 10 "SELECT * FROM big_table"`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("dsn", "", "connection string (mysql:// or postgres:// URL)")
	flags.String("driver", "", "backend: mysql or postgres (default: the DSN scheme)")
	flags.Int("max-rows", 0, "deliver at most this many rows (0 = all)")
	flags.Int("column-capacity", 0, "starting buffer capacity per column in bytes")
	flags.String("null", "NULL", "text printed for null values")
	flags.BoolP("verbose", "v", false, "log cursor diagnostics to stderr")

	cobra.OnInitialize(initConfig)
	_ = viper.BindPFlags(flags)
}

// initConfig layers settings under the flags: flag > ROWBIND_* environment
// variable > ~/.rowbind/config.yaml.
func initConfig() {
	viper.SetEnvPrefix("rowbind")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.Join(home, ".rowbind"))
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "warning: config file: %v\n", err)
		}
	}
}

func run(cmd *cobra.Command, args []string) error {
	dsn := viper.GetString("dsn")
	if dsn == "" {
		return errors.New("no connection string: use --dsn, ROWBIND_DSN, or the config file")
	}
	driver := viper.GetString("driver")
	if driver == "" {
		driver = driverForDSN(dsn)
	}

	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []rowbind.Option{rowbind.WithLogger(logger)}
	if n := viper.GetInt("max-rows"); n > 0 {
		opts = append(opts, rowbind.WithMaxRows(n))
	}
	if n := viper.GetInt("column-capacity"); n > 0 {
		opts = append(opts, rowbind.WithColumnCapacity(n))
	}

	query, params := args[0], args[1:]
	switch driver {
	case "mysql":
		return runMySQL(dsn, query, params, opts)
	case "postgres", "postgresql":
		return runPostgres(cmd.Context(), dsn, query, params, opts)
	default:
		return fmt.Errorf("unknown driver %q (want mysql or postgres)", driver)
	}
}

func driverForDSN(dsn string) string {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return ""
	}
	return scheme
}

func runMySQL(dsn, query string, params []string, opts []rowbind.Option) error {
	conn, err := mysql.Open(dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	stmt, err := conn.Prepare(query)
	if err != nil {
		return err
	}
	if err := stmt.Execute(params...); err != nil {
		_ = stmt.Close()
		return err
	}
	// Closing the cursor closes the statement too.
	cur := stmt.Cursor(opts...)
	defer cur.Close()
	return printRows(cur)
}

func runPostgres(ctx context.Context, dsn, query string, params []string, opts []rowbind.Option) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	defer conn.Close(ctx)

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}
	eng, err := postgres.Query(ctx, conn, query, args...)
	if err != nil {
		return err
	}
	cur := rowbind.Open(eng, opts...)
	defer cur.Close()
	return printRows(cur)
}

func printRows(cur *rowbind.Cursor) error {
	n := cur.ColumnCount()
	if n == 0 {
		// Statements without a result set print nothing.
		return cur.Err()
	}
	nullMark := viper.GetString("null")

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer w.Flush()

	for i := 1; i <= n; i++ {
		name, err := cur.ColumnName(i)
		if err != nil {
			return err
		}
		if i > 1 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, name)
	}
	fmt.Fprintln(w)

	for cur.Next() {
		for i := 1; i <= n; i++ {
			if i > 1 {
				fmt.Fprint(w, "\t")
			}
			null, err := cur.IsNull(i)
			if err != nil {
				return err
			}
			if null {
				fmt.Fprint(w, nullMark)
				continue
			}
			s, err := cur.String(i)
			if err != nil {
				return err
			}
			fmt.Fprint(w, s)
		}
		fmt.Fprintln(w)
	}
	return cur.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
