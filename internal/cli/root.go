package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/hitoshi/habitloop/internal/client"
)

// Root はhabitctlのコマンドライン定義。
type Root struct {
	APIURL  string           `name:"api-url" help:"Base URL of the habitloop API." env:"HABITCTL_API_URL" default:"http://localhost:8080"`
	Token   string           `help:"API token. Overrides the token stored by 'login'." env:"HABITCTL_TOKEN"`
	Version kong.VersionFlag `help:"Show version."`

	Login     LoginCmd     `cmd:"" help:"Store the --token value in the OS keyring."`
	Logout    LogoutCmd    `cmd:"" help:"Remove the stored API token."`
	Whoami    WhoamiCmd    `cmd:"" help:"Show the signed-in user."`
	List      ListCmd      `cmd:"" default:"1" help:"List your habits."`
	Recent    RecentCmd    `cmd:"" help:"List your most recently created habits."`
	Show      ShowCmd      `cmd:"" help:"Show a habit with its recent history."`
	Add       AddCmd       `cmd:"" help:"Create a habit."`
	Edit      EditCmd      `cmd:"" help:"Change fields of a habit."`
	Rm        RmCmd        `cmd:"" help:"Delete a habit and its history."`
	Complete  CompleteCmd  `cmd:"" help:"Mark a habit as completed for today."`
	Stats     StatsCmd     `cmd:"" help:"Show dashboard statistics."`
	Analytics AnalyticsCmd `cmd:"" help:"Show streak and category analytics."`
	Explore   ExploreCmd   `cmd:"" help:"Browse public habits."`
	Blog      BlogCmd      `cmd:"" help:"List community blog posts."`
}

// tokenSource はフラグまたは環境変数のトークンを優先し、なければキーリングを参照する。
// リクエストごとに評価されるため、loginの直後から新しいトークンが使われる。
// 未保存の場合は認証ヘッダーなしで送信する。公開ルートはそのまま成功し、
// 認証が必要なルートはサーバーの401からログイン案内になる。
func (r *Root) tokenSource() client.TokenSource {
	return client.TokenSourceFunc(func(context.Context) (string, error) {
		if r.Token != "" {
			return r.Token, nil
		}
		token, err := loadToken()
		if errors.Is(err, ErrNoToken) {
			return "", nil
		}
		return token, err
	})
}

// Execute は引数を解析してコマンドを実行する。
func Execute(ctx context.Context, args []string, out io.Writer, version string) error {
	var root Root
	parser, err := kong.New(&root,
		kong.Name("habitctl"),
		kong.Description("Track your habits from the terminal."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": version},
		kong.Writers(out, out),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	c, err := client.New(root.APIURL, root.tokenSource(),
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return err
	}

	return kctx.Run(&Context{Ctx: ctx, Client: c, Out: out, Token: root.Token})
}
