// Package main provides the jukebox control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/jukebox/internal/api/connect"
)

var (
	app    = kingpin.New("jukeboxctl", "jukebox control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set JUKEBOX_ADMIN_TOKEN env)").Envar("JUKEBOX_ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show controller status")

	// play command
	playCmd   = app.Command("play", "Play the current item or the item at index")
	playIndex = playCmd.Arg("index", "Queue index").Default("-1").Int()

	// pause command
	pauseCmd = app.Command("pause", "Pause playback")

	// stop command
	stopCmd = app.Command("stop", "Stop playback and rewind to the first item")

	// next command
	nextCmd = app.Command("next", "Play the next item").Alias("skip")

	// previous command
	previousCmd = app.Command("previous", "Play the previous item").Alias("prev")

	// replay command
	replayCmd     = app.Command("replay", "Restart the queue from the first item")
	replayCurrent = replayCmd.Flag("current", "Restart only the current item").Bool()

	// seek command
	seekCmd     = app.Command("seek", "Seek within the current item")
	seekSeconds = seekCmd.Arg("seconds", "Target position in seconds").Required().Float64()
	seekPlay    = seekCmd.Flag("play", "Start playing after seeking").Bool()

	// append command
	appendCmd     = app.Command("append", "Append an item to the queue").Alias("add")
	appendLocator = appendCmd.Arg("locator", "Path, URL or spotify:track: URI").Required().String()
	appendTitle   = appendCmd.Flag("title", "Display title").String()
	appendLoad    = appendCmd.Flag("load", "Load the asset immediately").Bool()

	// remove command
	removeCmd     = app.Command("remove", "Remove every item with locator").Alias("rm")
	removeLocator = removeCmd.Arg("locator", "Locator to remove").Required().String()

	// volume command
	volumeCmd   = app.Command("volume", "Set the output volume")
	volumeLevel = volumeCmd.Arg("level", "Volume between 0 and 1").Required().Float64()

	// watch command
	watchCmd = app.Command("watch", "Stream controller events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		resp *structpb.Struct
		err  error
	)

	// Execute command
	switch command {
	case statusCmd.FullCommand():
		resp, err = client.Status(ctx)
	case playCmd.FullCommand():
		args := map[string]any{}
		if *playIndex >= 0 {
			args["index"] = *playIndex
		}
		resp, err = client.Call(ctx, apiconnect.PlayProcedure, args)
	case pauseCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.PauseProcedure, nil)
	case stopCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.StopProcedure, nil)
	case nextCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.NextProcedure, nil)
	case previousCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.PreviousProcedure, nil)
	case replayCmd.FullCommand():
		procedure := apiconnect.ReplayProcedure
		if *replayCurrent {
			procedure = apiconnect.ReplayCurrentProcedure
		}
		resp, err = client.Call(ctx, procedure, nil)
	case seekCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.SeekProcedure, map[string]any{"seconds": *seekSeconds, "play": *seekPlay})
	case appendCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.AppendProcedure, map[string]any{
			"locator": *appendLocator,
			"title":   *appendTitle,
			"load":    *appendLoad,
		})
	case removeCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.RemoveProcedure, map[string]any{"locator": *removeLocator})
	case volumeCmd.FullCommand():
		resp, err = client.Call(ctx, apiconnect.SetVolumeProcedure, map[string]any{"level": *volumeLevel})
	case watchCmd.FullCommand():
		err = client.Watch(ctx, func(msg *structpb.Struct) error {
			printEvent(msg)
			return nil
		})
		if ctx.Err() != nil {
			err = nil
		}
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if resp != nil {
		printStatus(resp)
	}
}
