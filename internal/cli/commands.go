// Package cli はhabitctlコマンドの実装を提供する。
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hitoshi/habitloop/internal/client"
)

// APIClient はコマンドが使用するAPI操作。
type APIClient interface {
	ListMine(ctx context.Context) ([]client.Habit, error)
	ListRecent(ctx context.Context) ([]client.Habit, error)
	Get(ctx context.Context, id string) (*client.Habit, error)
	Create(ctx context.Context, in client.CreateHabitInput) (*client.Habit, error)
	Update(ctx context.Context, id string, in client.UpdateHabitInput) (*client.Habit, error)
	Delete(ctx context.Context, id string) error
	CompleteAsync(ctx context.Context, id string, apply func(*client.Habit, error)) <-chan struct{}
	UserAnalytics(ctx context.Context) (*client.UserAnalytics, error)
	ListPublic(ctx context.Context, filter client.HabitFilter) ([]client.Habit, error)
	ListFeatured(ctx context.Context) ([]client.Habit, error)
	DashboardStats(ctx context.Context) (*client.DashboardStats, error)
	BlogPosts(ctx context.Context, search string, limit int) ([]client.BlogPost, error)
	Me(ctx context.Context) (*client.User, error)
}

var _ APIClient = (*client.Client)(nil)

// Context はコマンド実行時の依存。
type Context struct {
	Ctx    context.Context
	Client APIClient
	Out    io.Writer
	Now    func() time.Time
	// Token は--tokenフラグまたはHABITCTL_TOKENの値。
	Token string
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Context) println(s string) {
	fmt.Fprintln(c.Out, s)
}

// LoginCmd は--tokenで渡されたAPIトークンをキーリングに保存する。
type LoginCmd struct{}

func (cmd *LoginCmd) Run(ctx *Context) error {
	if ctx.Token == "" {
		return errors.New("--token is required: habitctl login --token <token>")
	}
	if err := saveToken(ctx.Token); err != nil {
		return err
	}
	ctx.println(doneStyle.Render("✓") + " Token saved.")
	return nil
}

// LogoutCmd はキーリングのトークンを削除する。
type LogoutCmd struct{}

func (cmd *LogoutCmd) Run(ctx *Context) error {
	removed, err := deleteToken()
	if err != nil {
		return err
	}
	if !removed {
		ctx.println(mutedStyle.Render("No stored token."))
		return nil
	}
	ctx.println(doneStyle.Render("✓") + " Token removed.")
	return nil
}

// WhoamiCmd はログイン中のユーザーを表示する。
type WhoamiCmd struct{}

func (cmd *WhoamiCmd) Run(ctx *Context) error {
	u, err := ctx.Client.Me(ctx.Ctx)
	if err != nil {
		return describeError(err)
	}
	ctx.println(fmt.Sprintf("%s <%s>", titleStyle.Render(u.Name), u.Email))
	return nil
}

// ListCmd は自分の習慣一覧を表示する。
type ListCmd struct{}

func (cmd *ListCmd) Run(ctx *Context) error {
	habits, err := ctx.Client.ListMine(ctx.Ctx)
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderHabitList(habits, "No habits yet."))
	return nil
}

// ShowCmd は習慣の詳細と直近の完了履歴を表示する。
type ShowCmd struct {
	ID string `arg:"" help:"Habit ID."`
}

func (cmd *ShowCmd) Run(ctx *Context) error {
	h, err := ctx.Client.Get(ctx.Ctx, cmd.ID)
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderHabitDetail(*h, ctx.now()))
	return nil
}

// errCompletionInterrupted は完了リクエストの結果を受け取る前に中断されたことを示す。
var errCompletionInterrupted = errors.New("interrupted: the completion may still have been recorded, check with 'habitctl show'")

// CompleteCmd は習慣を今日の分として完了にする。
type CompleteCmd struct {
	ID string `arg:"" help:"Habit ID."`
}

func (cmd *CompleteCmd) Run(ctx *Context) error {
	// 中断されてもリクエスト自体は最後まで送り切る。結果はctxが生きている間だけ受け取る
	var (
		h       *client.Habit
		err     error
		applied bool
	)
	<-ctx.Client.CompleteAsync(ctx.Ctx, cmd.ID, func(got *client.Habit, gotErr error) {
		h, err, applied = got, gotErr, true
	})
	if !applied {
		return errCompletionInterrupted
	}
	if err != nil {
		// 完了済みはエラーではなく案内として扱う
		if errors.Is(err, client.ErrAlreadyCompleted) {
			ctx.println(infoStyle.Render("Already completed today."))
			return nil
		}
		return describeError(err)
	}
	ctx.println(fmt.Sprintf("%s %s  streak %s",
		doneStyle.Render("✓"), titleStyle.Render(h.Title),
		streakStyle.Render(fmt.Sprintf("%d days", h.Streak))))
	return nil
}

// RecentCmd は最近作成した習慣を表示する。
type RecentCmd struct{}

func (cmd *RecentCmd) Run(ctx *Context) error {
	habits, err := ctx.Client.ListRecent(ctx.Ctx)
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderHabitList(habits, "No habits yet."))
	return nil
}

// AddCmd は習慣を作成する。
type AddCmd struct {
	Title       string `arg:"" help:"Habit title."`
	Description string `help:"What the habit is about." short:"d" required:""`
	Category    string `help:"Category, e.g. Health or Learning." short:"c" required:""`
	Reminder    string `help:"Reminder time in 24-hour HH:MM."`
	Image       string `help:"Image URL."`
	Private     bool   `help:"Hide the habit from explore."`
}

func (cmd *AddCmd) Run(ctx *Context) error {
	in := client.CreateHabitInput{
		Title:        cmd.Title,
		Description:  cmd.Description,
		Category:     cmd.Category,
		ReminderTime: cmd.Reminder,
		Image:        cmd.Image,
	}
	if cmd.Private {
		public := false
		in.Public = &public
	}
	h, err := ctx.Client.Create(ctx.Ctx, in)
	if err != nil {
		return describeError(err)
	}
	ctx.println(doneStyle.Render("✓") + " Created " + renderHabitLine(*h))
	return nil
}

// EditCmd は指定したフィールドだけを更新する。
type EditCmd struct {
	ID          string  `arg:"" help:"Habit ID."`
	Title       *string `help:"New title."`
	Description *string `help:"New description." short:"d"`
	Category    *string `help:"New category." short:"c"`
	Reminder    *string `help:"New reminder time in HH:MM. Pass an empty value to clear it."`
	Image       *string `help:"New image URL. Pass an empty value to clear it."`
	Public      bool    `help:"Show the habit in explore." xor:"visibility"`
	Private     bool    `help:"Hide the habit from explore." xor:"visibility"`
}

func (cmd *EditCmd) Run(ctx *Context) error {
	in := client.UpdateHabitInput{
		Title:        cmd.Title,
		Description:  cmd.Description,
		Category:     cmd.Category,
		ReminderTime: cmd.Reminder,
		Image:        cmd.Image,
	}
	if cmd.Public || cmd.Private {
		public := cmd.Public
		in.Public = &public
	}
	if in == (client.UpdateHabitInput{}) {
		return errors.New("nothing to change: pass at least one flag, see 'habitctl edit --help'")
	}
	h, err := ctx.Client.Update(ctx.Ctx, cmd.ID, in)
	if err != nil {
		return describeError(err)
	}
	ctx.println(doneStyle.Render("✓") + " Updated " + renderHabitLine(*h))
	return nil
}

// RmCmd は習慣を削除する。
type RmCmd struct {
	ID string `arg:"" help:"Habit ID."`
}

func (cmd *RmCmd) Run(ctx *Context) error {
	if err := ctx.Client.Delete(ctx.Ctx, cmd.ID); err != nil {
		return describeError(err)
	}
	ctx.println(doneStyle.Render("✓") + " Removed " + cmd.ID)
	return nil
}

// AnalyticsCmd は分析ページの集計を表示する。
type AnalyticsCmd struct{}

func (cmd *AnalyticsCmd) Run(ctx *Context) error {
	a, err := ctx.Client.UserAnalytics(ctx.Ctx)
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderAnalytics(a))
	return nil
}

// StatsCmd はダッシュボード集計を表示する。
type StatsCmd struct{}

func (cmd *StatsCmd) Run(ctx *Context) error {
	s, err := ctx.Client.DashboardStats(ctx.Ctx)
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderStats(s))
	return nil
}

// ExploreCmd は公開習慣を検索する。
type ExploreCmd struct {
	Search   string `help:"Search in habit titles." short:"s"`
	Category string `help:"Filter by category." short:"c"`
	Featured bool   `help:"Show featured habits instead."`
}

func (cmd *ExploreCmd) Run(ctx *Context) error {
	var (
		habits []client.Habit
		err    error
	)
	if cmd.Featured {
		habits, err = ctx.Client.ListFeatured(ctx.Ctx)
	} else {
		habits, err = ctx.Client.ListPublic(ctx.Ctx, client.HabitFilter{Search: cmd.Search, Category: cmd.Category})
	}
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderHabitList(habits, "No public habits found."))
	return nil
}

// BlogCmd はブログ記事一覧を表示する。
type BlogCmd struct {
	Search string `help:"Search in post titles." short:"s"`
	Limit  int    `help:"Maximum number of posts." default:"10"`
}

func (cmd *BlogCmd) Run(ctx *Context) error {
	posts, err := ctx.Client.BlogPosts(ctx.Ctx, cmd.Search, cmd.Limit)
	if err != nil {
		return describeError(err)
	}
	ctx.println(renderBlogPosts(posts))
	return nil
}

// describeError はAPIエラーを利用者向けのメッセージに変換する。
func describeError(err error) error {
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("not authenticated: run 'habitctl login --token <token>': %w", err)
	case errors.Is(err, client.ErrNotFound):
		return fmt.Errorf("habit not found: %w", err)
	case client.IsTransient(err):
		return fmt.Errorf("server is temporarily unavailable, try again later: %w", err)
	default:
		return err
	}
}
