package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/presence"
	"github.com/chatsev/realtime/internal/repository"
	"github.com/chatsev/realtime/internal/service"
	"github.com/chatsev/realtime/internal/unread"
	"github.com/chatsev/realtime/pkg/constant"
	"github.com/chatsev/realtime/pkg/jwt"
	"github.com/urfave/cli/v3"
)

// UnreadCommand runs a full recount for one viewer
func UnreadCommand() *cli.Command {
	return &cli.Command{
		Name:  "unread",
		Usage: "Recount a viewer's unread messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "viewer", Usage: "viewer user id", Required: true},
			&cli.StringFlag{Name: "kind", Usage: "direct or messenger", Value: constant.UnreadKindDirect},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			repos, _, err := openRepositories(c.String("config"))
			if err != nil {
				return err
			}
			defer repos.Close()

			var src unread.Source
			switch c.String("kind") {
			case constant.UnreadKindDirect:
				src = unread.NewDirectSource(repos.Conversation)
			case constant.UnreadKindMessenger:
				src = unread.NewMessengerSource(repos.Messenger)
			default:
				return fmt.Errorf("unknown kind %q", c.String("kind"))
			}

			n, err := src.Recount(ctx, c.String("viewer"))
			if err != nil {
				return fmt.Errorf("recount: %w", err)
			}
			return printJSON(os.Stdout, map[string]interface{}{"kind": src.Kind(), "count": n})
		},
	}
}

// PresenceCommand resolves a target's presence for a viewer
func PresenceCommand() *cli.Command {
	return &cli.Command{
		Name:  "presence",
		Usage: "Resolve a user's presence as seen by a viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Usage: "target user id", Required: true},
			&cli.StringFlag{Name: "viewer", Usage: "viewer user id", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			repos, _, err := openRepositories(c.String("config"))
			if err != nil {
				return err
			}
			defer repos.Close()

			st, err := presence.NewResolver(repos.Profile).Resolve(ctx, c.String("target"), c.String("viewer"))
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			return printJSON(os.Stdout, st)
		},
	}
}

// RoomsCommand prints the batch room counts
func RoomsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rooms",
		Usage: "Count active users per configured room",
		Action: func(ctx context.Context, c *cli.Command) error {
			repos, cfg, err := openRepositories(c.String("config"))
			if err != nil {
				return err
			}
			defer repos.Close()

			poller := presence.NewRoomPoller(repos.Room, service.RoomsFromConfig(cfg.Presence.Rooms), cfg.Presence.RoomPollInterval)
			counts, err := poller.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("count rooms: %w", err)
			}
			return printJSON(os.Stdout, counts)
		},
	}
}

// PublishCommand pushes one change event into the configured feed transport
func PublishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish a change event for manual testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "table", Usage: "source table", Required: true},
			&cli.StringFlag{Name: "type", Usage: "INSERT, UPDATE or DELETE", Value: string(changefeed.EventInsert)},
			&cli.StringFlag{Name: "record", Usage: "new row as JSON"},
			&cli.StringFlag{Name: "old-record", Usage: "old row as JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ev, err := buildEvent(c.String("table"), c.String("type"), c.String("record"), c.String("old-record"))
			if err != nil {
				return err
			}

			repos, cfg, err := openRepositories(c.String("config"))
			if err != nil {
				return err
			}
			defer repos.Close()

			if cfg.Feed.Transport == constant.FeedTransportMemory {
				return fmt.Errorf("the memory transport is process local, nothing would receive the event")
			}

			transport, closeTransport, err := changefeed.Open(ctx, cfg.Feed, repos.Redis)
			if err != nil {
				return err
			}
			defer closeTransport()

			payload, err := ev.Marshal()
			if err != nil {
				return err
			}
			if err := transport.Publish(ctx, ev.Table, payload); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(os.Stdout, "published %s on %s\n", ev.Type, ev.Table)
			return nil
		},
	}
}

// TokenCommand mints an access token for local testing
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an access token signed with the configured secret",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "user id", Required: true},
			&cli.IntFlag{Name: "platform", Usage: "platform id, 0 for any"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime, defaults to jwt.token_ttl"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ttl := c.Duration("ttl")
			if ttl == 0 {
				ttl = cfg.JWT.TokenTTL
			}

			token, err := jwt.NewVerifier(cfg.JWT.VerifierOptions()).Issue(c.String("user"), int(c.Int("platform")), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
}

func buildEvent(table, typ, record, oldRecord string) (changefeed.Event, error) {
	ev := changefeed.Event{
		Type:            changefeed.EventType(strings.ToUpper(typ)),
		Table:           table,
		CommitTimestamp: time.Now().UnixMilli(),
	}
	if record != "" {
		if err := json.Unmarshal([]byte(record), &ev.New); err != nil {
			return ev, fmt.Errorf("parse record: %w", err)
		}
	}
	if oldRecord != "" {
		if err := json.Unmarshal([]byte(oldRecord), &ev.Old); err != nil {
			return ev, fmt.Errorf("parse old record: %w", err)
		}
	}

	// round trip through the parser so malformed events fail here
	payload, err := ev.Marshal()
	if err != nil {
		return ev, err
	}
	return changefeed.ParseEvent(payload)
}

func openRepositories(configPath string) (*repository.Repositories, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)

	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening repositories: %w", err)
	}
	return repos, cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
