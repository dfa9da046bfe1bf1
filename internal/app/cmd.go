package app

import (
	"fmt"
	"strconv"
)

// Command はhabitloopバイナリの起動モード。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数から起動モードを決める。
// 未指定や未知の値はAPIサーバーとして起動する。
func ParseCommand(args []string) Command {
	if len(args) > 0 {
		if cmd, ok := knownCommands[args[0]]; ok {
			return cmd
		}
	}
	return CommandServe
}

// MigrateOptions はmigrateサブコマンドのオプション。
type MigrateOptions struct {
	// Down がtrueの場合はStepsバージョン分を巻き戻す。
	Down  bool
	Steps int
}

// ParseMigrateArgs はmigrate以降の引数を解析する。
// 引数なしまたは "up" で全適用、"down [N]" で直近N件（既定1件）を巻き戻す。
func ParseMigrateArgs(args []string) (MigrateOptions, error) {
	if len(args) == 0 || args[0] == "up" {
		return MigrateOptions{}, nil
	}
	if args[0] != "down" {
		return MigrateOptions{}, fmt.Errorf("unknown migrate direction %q (want up or down)", args[0])
	}

	opts := MigrateOptions{Down: true, Steps: 1}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return MigrateOptions{}, fmt.Errorf("invalid migrate steps %q: must be a positive integer", args[1])
		}
		opts.Steps = n
	}
	return opts, nil
}
