package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/omochice/moldline/internal/chat"
	"github.com/omochice/moldline/internal/client"
	"github.com/omochice/moldline/internal/usercache"
	"github.com/omochice/moldline/pkg/protocol"
)

func buildUsersCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requireSession(); err != nil {
				return err
			}
			users, err := a.api.Users(cmd.Context())
			if err != nil {
				return userError(a.gate.HandleError(err))
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\n", u.Name, u.ID)
			}
			return w.Flush()
		},
	}
}

func buildConversationsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requireSession(); err != nil {
				return err
			}

			list := chat.NewConversationList(a.api, nil, a.chatOptions()...)
			defer list.Close()
			if err := list.Load(cmd.Context()); err != nil {
				return userError(a.gate.HandleError(err))
			}
			a.users.Load(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tTITLE")
			for _, c := range list.Conversations() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Kind, title(c, a.users, a.gate.UserID()))
			}
			return w.Flush()
		},
	}
}

func buildDMCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dm <nickname-or-id>",
		Short: "Open a direct conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requireSession(); err != nil {
				return err
			}
			a.users.Load(cmd.Context())
			otherID := resolveUser(a.users, args[0])

			c, err := a.api.CreateDM(cmd.Context(), otherID)
			if err != nil {
				return userError(a.gate.HandleError(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
}

func buildRoomCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage chat rooms",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all rooms",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(flags)
				if err != nil {
					return err
				}
				defer a.close()

				if err := a.requireSession(); err != nil {
					return err
				}
				rooms, err := a.api.Rooms(cmd.Context())
				if err != nil {
					return userError(a.gate.HandleError(err))
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tMEMBERS")
				for _, r := range rooms {
					fmt.Fprintf(w, "%s\t%s\t%d\n", r.ID, r.Name, len(r.Members))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a room",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(flags)
				if err != nil {
					return err
				}
				defer a.close()

				if err := a.requireSession(); err != nil {
					return err
				}
				r, err := a.api.CreateRoom(cmd.Context(), args[0])
				if err != nil {
					return userError(a.gate.HandleError(err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), r.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "join <room-id>",
			Short: "Join a room",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(flags)
				if err != nil {
					return err
				}
				defer a.close()

				if err := a.requireSession(); err != nil {
					return err
				}
				if err := a.api.JoinRoom(cmd.Context(), args[0]); err != nil {
					return userError(a.gate.HandleError(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Joined %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func buildChatCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Open a conversation and chat in real time",
		Long: `Open a conversation, print its history and follow new messages.

Each line read from stdin is sent as a message. Type /quit to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, args[0], metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)")
	return cmd
}

func runChat(cmd *cobra.Command, flags *globalFlags, convoID, metricsAddr string) error {
	out := cmd.OutOrStdout()

	statusLine := func(s client.Status) {
		switch s {
		case client.StatusConnected:
			fmt.Fprintln(cmd.ErrOrStderr(), "*** connected ***")
		case client.StatusDisconnected:
			fmt.Fprintln(cmd.ErrOrStderr(), "*** disconnected ***")
		}
	}

	a, err := newApp(flags, client.WithStatusListener(statusLine))
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireSession(); err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	ctx := cmd.Context()
	a.users.Load(ctx)

	p := &printer{out: out, users: a.users}
	list := chat.NewMessageList(convoID, a.api, a.registry, a.chatOptions(chat.WithOnChange(p.flush))...)
	defer list.Close()
	p.list = list

	if err := list.Load(ctx); err != nil {
		return userError(a.gate.HandleError(err))
	}
	if err := a.gate.Start(ctx); err != nil {
		return userError(err)
	}
	if !a.gate.IsLoggedIn() {
		return fmt.Errorf("session expired; run `moldline login` again")
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Type your messages (or /quit to exit):")
	return readLoop(ctx, cmd.InOrStdin(), a, list)
}

func readLoop(ctx context.Context, in io.Reader, a *app, list *chat.MessageList) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}

		if err := list.Send(ctx, text); err != nil {
			if err := a.gate.HandleError(err); !a.gate.IsLoggedIn() {
				return userError(err)
			}
			a.log.Warn().Err(err).Msg("send failed")
		}
	}
	return scanner.Err()
}

// printer writes messages of a MessageList that have not been printed yet.
type printer struct {
	out   io.Writer
	users *usercache.Cache
	list  *chat.MessageList

	mu      sync.Mutex
	printed map[string]struct{}
}

func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.list == nil {
		return
	}
	if p.printed == nil {
		p.printed = make(map[string]struct{})
	}
	for _, m := range p.list.Messages() {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		fmt.Fprintf(p.out, "%s [%s]: %s\n", m.Time().Local().Format("15:04"), p.users.Name(m.From), m.Text)
	}
}

// title is how a conversation is shown in lists: the room name, or the
// other members of a DM.
func title(c protocol.Conversation, users *usercache.Cache, self string) string {
	if c.Kind == protocol.ConversationRoom && c.Name != "" {
		return c.Name
	}
	var names []string
	for _, id := range c.Members {
		if id != self {
			names = append(names, users.Name(id))
		}
	}
	if len(names) == 0 {
		return users.Name(self)
	}
	return strings.Join(names, ", ")
}

// resolveUser maps a nickname to a user id. Anything that is not a known
// nickname is taken to be an id already.
func resolveUser(users *usercache.Cache, nameOrID string) string {
	for _, u := range users.Users() {
		if strings.EqualFold(u.Name, nameOrID) {
			return u.ID
		}
	}
	return nameOrID
}
