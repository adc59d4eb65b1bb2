package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"creatorbridge.com/realtime"
)

const RealtimeCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Realtime sync control.

The default urls are:
    api_url: http://localhost:8080
    ws_url: ws://localhost:8080/ws

Usage:
    realtimectl sync [--api_url=<api_url>] [--jwt=<jwt>]
    realtimectl watch [--ws_url=<ws_url>] [--jwt=<jwt>]
    realtimectl send [--api_url=<api_url>] [--jwt=<jwt>]
        --entity_type=<entity_type>
        --action=<action>
        --entity_id=<entity_id>
        [<payload>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --jwt=<jwt>                  Your platform JWT. Prompted when omitted.
    --entity_type=<entity_type>  offer, claim, message, notification or deliverable.
    --action=<action>            create, update or delete.
    --entity_id=<entity_id>`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RealtimeCtlVersion)
	if err != nil {
		panic(err)
	}

	if sync_, _ := opts.Bool("sync"); sync_ {
		syncSnapshot(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	}
}

func jwtFromOpts(opts docopt.Opts) string {
	jwt, _ := opts.String("--jwt")
	if jwt != "" {
		return jwt
	}
	fmt.Fprint(os.Stderr, "jwt: ")
	jwtBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("Could not read jwt (%s).", err)
	}
	return string(jwtBytes)
}

func apiUrlFromOpts(opts docopt.Opts) string {
	apiUrl, _ := opts.String("--api_url")
	if apiUrl == "" {
		apiUrl = "http://localhost:8080"
	}
	return apiUrl
}

// fetch a snapshot over the fallback path and print it
func syncSnapshot(opts docopt.Opts) {
	jwt := jwtFromOpts(opts)
	apiUrl := apiUrlFromOpts(opts)

	request, err := http.NewRequest("GET", apiUrl+"/sync", nil)
	if err != nil {
		Err.Fatalf("Bad request (%s).", err)
	}
	request.Header.Set("Authorization", "Bearer "+jwt)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		Err.Fatalf("Sync failed (%s).", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		Err.Fatalf("Sync read failed (%s).", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		Out.Printf("%s", body)
		return
	}
	Out.Printf("%s", pretty.String())
}

// connect a manager and print routed changes until interrupted
func watch(opts docopt.Opts) {
	jwt := jwtFromOpts(opts)
	wsUrl, _ := opts.String("--ws_url")
	if wsUrl == "" {
		wsUrl = "ws://localhost:8080/ws"
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := realtime.NewClientCache()
	settings := realtime.DefaultConnectionManagerSettings()
	settings.NotificationCallback = func(data json.RawMessage) {
		Out.Printf("notification: %s", data)
	}

	manager := realtime.NewConnectionManager(cancelCtx, wsUrl, cache, settings)
	defer manager.Close()

	manager.Connect(jwt)

	go func() {
		// wait out the handshake, then seed the cache
		time.Sleep(1 * time.Second)
		manager.RequestSync()
		for {
			select {
			case <-cancelCtx.Done():
				return
			case <-time.After(2 * time.Second):
				for _, entityType := range []realtime.EntityType{
					realtime.EntityTypeOffer,
					realtime.EntityTypeClaim,
					realtime.EntityTypeMessage,
					realtime.EntityTypeNotification,
					realtime.EntityTypeDeliverable,
				} {
					if n := cache.Len(entityType); 0 < n {
						Out.Printf("%s: %d", entityType, n)
					}
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// post one change batch over the fallback path
func send(opts docopt.Opts) {
	jwt := jwtFromOpts(opts)
	apiUrl := apiUrlFromOpts(opts)

	entityTypeStr, _ := opts.String("--entity_type")
	actionStr, _ := opts.String("--action")
	entityIdStr, _ := opts.String("--entity_id")
	payloadStr, _ := opts.String("<payload>")

	entityId, err := realtime.ParseId(entityIdStr)
	if err != nil {
		Err.Fatalf("Invalid entity_id (%s).", err)
	}

	change := &realtime.EntityChange{
		EntityType: realtime.EntityType(entityTypeStr),
		Action:     realtime.ChangeAction(actionStr),
		EntityId:   entityId,
	}
	if payloadStr != "" {
		change.Payload = json.RawMessage(payloadStr)
	}
	if err := change.Validate(); err != nil {
		Err.Fatalf("Invalid change (%s).", err)
	}

	bodyBytes, err := json.Marshal(&realtime.ChangesPayload{
		Changes: []*realtime.EntityChange{change},
	})
	if err != nil {
		Err.Fatalf("Encode failed (%s).", err)
	}

	request, err := http.NewRequest("POST", apiUrl+"/sync/changes", bytes.NewReader(bodyBytes))
	if err != nil {
		Err.Fatalf("Bad request (%s).", err)
	}
	request.Header.Set("Authorization", "Bearer "+jwt)
	request.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		Err.Fatalf("Send failed (%s).", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		Err.Fatalf("Send read failed (%s).", err)
	}
	Out.Printf("%s", body)
}
