package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nftwatch/internal/model"
)

// Registry is the subscription state the commands mutate.
type Registry interface {
	Subscribe(ctx context.Context, userID int64, collection model.Collection) (bool, error)
	Unsubscribe(ctx context.Context, userID int64, id model.CollectionID) (bool, error)
	SetPreferences(ctx context.Context, userID int64, prefs model.Preferences) error
	PreferencesOf(userID int64) model.Preferences
	ListCollections(userID int64) []model.Collection
}

// Routes reports which chain/marketplace pairs can be polled, validates and
// canonicalizes keys, and resolves default display names.
type Routes interface {
	Supported(chain model.Chain, marketplace model.Marketplace) bool
	Canonicalize(id model.CollectionID) (model.CollectionID, error)
	ResolveName(ctx context.Context, id model.CollectionID) (string, error)
}

// Commands implements the chat command set independently of the bot library.
type Commands struct {
	registry Registry
	routes   Routes
	logger   *zap.Logger
}

func NewCommands(registry Registry, routes Routes, logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{registry: registry, routes: routes, logger: logger}
}

const helpText = `NFT Transaction Tracker

/add <chain> <marketplace> <key> [name] - track a collection
/remove <chain> <marketplace> <key> or /remove <n> - stop tracking
/list - show tracked collections
/settings - show alert preferences
/alerts <all|sales|purchases> - choose alert types
/cadence <instant|10min|hourly> - choose update frequency
/help - show this message`

// Handle runs one command for a user and returns the reply text.
func (c *Commands) Handle(ctx context.Context, userID int64, command string, args []string) string {
	command = strings.ToLower(strings.TrimPrefix(command, "/"))
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}

	switch command {
	case "start":
		return "Welcome! I track NFT sales and purchases across chains and marketplaces.\n\n" + helpText
	case "help":
		return helpText
	case "add":
		return c.add(ctx, userID, args)
	case "remove":
		return c.remove(ctx, userID, args)
	case "list":
		return c.list(userID)
	case "settings":
		return c.settings(userID)
	case "alerts":
		return c.alerts(ctx, userID, args)
	case "cadence":
		return c.cadence(ctx, userID, args)
	default:
		return "Unknown command. Send /help for the list of commands."
	}
}

func (c *Commands) supportedPairs() string {
	var pairs []string
	for _, chain := range []model.Chain{model.ChainEthereum, model.ChainPolygon, model.ChainSolana} {
		for _, mkt := range model.KnownMarketplaces[chain] {
			if c.routes.Supported(chain, mkt) {
				pairs = append(pairs, string(chain)+" "+string(mkt))
			}
		}
	}
	if len(pairs) == 0 {
		return "none"
	}
	return strings.Join(pairs, ", ")
}

func known(chain model.Chain, mkt model.Marketplace) bool {
	for _, m := range model.KnownMarketplaces[chain] {
		if m == mkt {
			return true
		}
	}
	return false
}

func (c *Commands) add(ctx context.Context, userID int64, args []string) string {
	if len(args) < 3 {
		return "Usage: /add <chain> <marketplace> <key> [name]\nSupported: " + c.supportedPairs()
	}
	id := model.NewCollectionID(args[0], args[1], args[2])
	if !known(id.Chain, id.Marketplace) || !c.routes.Supported(id.Chain, id.Marketplace) {
		return fmt.Sprintf("Sorry, tracking for %s on %s is not supported yet.\nSupported: %s",
			id.Marketplace, id.Chain, c.supportedPairs())
	}
	id, err := c.routes.Canonicalize(id)
	if err != nil {
		return fmt.Sprintf("Invalid collection identifier for %s: %v", id.Chain, err)
	}

	collection := model.Collection{ID: id, Name: strings.TrimSpace(strings.Join(args[3:], " "))}
	if collection.Name == "" {
		name, err := c.routes.ResolveName(ctx, id)
		if err != nil {
			c.logger.Debug("resolve collection name failed", zap.String("collection", id.String()), zap.Error(err))
		}
		collection.Name = name
	}
	created, err := c.registry.Subscribe(ctx, userID, collection)
	if err != nil {
		c.logger.Error("subscribe failed", zap.Int64("user_id", userID), zap.String("collection", id.String()), zap.Error(err))
		return "Could not save the collection, please try again later."
	}
	if !created {
		return fmt.Sprintf("You are already tracking %s.", collection.DisplayName())
	}
	return fmt.Sprintf("✅ Now tracking %s on %s (%s).", collection.DisplayName(), id.Marketplace, id.Chain)
}

func (c *Commands) remove(ctx context.Context, userID int64, args []string) string {
	var id model.CollectionID
	switch len(args) {
	case 1:
		n, err := strconv.Atoi(args[0])
		collections := c.registry.ListCollections(userID)
		if err != nil || n < 1 || n > len(collections) {
			return "Usage: /remove <n> with n from /list"
		}
		id = collections[n-1].ID
	case 3:
		id = model.NewCollectionID(args[0], args[1], args[2])
		if canonical, err := c.routes.Canonicalize(id); err == nil {
			id = canonical
		}
	default:
		return "Usage: /remove <chain> <marketplace> <key> or /remove <n>"
	}

	removed, err := c.registry.Unsubscribe(ctx, userID, id)
	if err != nil {
		c.logger.Error("unsubscribe failed", zap.Int64("user_id", userID), zap.String("collection", id.String()), zap.Error(err))
		return "Could not remove the collection, please try again later."
	}
	if !removed {
		return "You are not tracking " + id.String() + "."
	}
	return "Stopped tracking " + id.String() + "."
}

func (c *Commands) list(userID int64) string {
	collections := c.registry.ListCollections(userID)
	if len(collections) == 0 {
		return "You are not tracking any collections yet. Use /add to start."
	}
	var b strings.Builder
	b.WriteString("Your tracked collections:\n")
	for i, col := range collections {
		fmt.Fprintf(&b, "\n%d. %s (%s on %s)", i+1, col.DisplayName(), col.ID.Marketplace, col.ID.Chain)
	}
	return b.String()
}

func (c *Commands) settings(userID int64) string {
	prefs := c.registry.PreferencesOf(userID)
	return fmt.Sprintf("Your settings:\n\nAlert types: %s\nUpdate frequency: %s\n\nChange with /alerts or /cadence.",
		prefs.Filter.Label(), prefs.Cadence.Label())
}

func (c *Commands) alerts(ctx context.Context, userID int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /alerts <all|sales|purchases>"
	}
	filter, err := model.ParseAlertFilter(args[0])
	if err != nil {
		return "Usage: /alerts <all|sales|purchases>"
	}
	prefs := c.registry.PreferencesOf(userID)
	prefs.Filter = filter
	if err := c.registry.SetPreferences(ctx, userID, prefs); err != nil {
		c.logger.Error("save preferences failed", zap.Int64("user_id", userID), zap.Error(err))
		return "Could not save your settings, please try again later."
	}
	return "Alert types set to: " + filter.Label()
}

func (c *Commands) cadence(ctx context.Context, userID int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /cadence <instant|10min|hourly>"
	}
	cadence, err := model.ParseCadence(args[0])
	if err != nil {
		return "Usage: /cadence <instant|10min|hourly>"
	}
	prefs := c.registry.PreferencesOf(userID)
	prefs.Cadence = cadence
	if err := c.registry.SetPreferences(ctx, userID, prefs); err != nil {
		c.logger.Error("save preferences failed", zap.Int64("user_id", userID), zap.Error(err))
		return "Could not save your settings, please try again later."
	}
	return "Update frequency set to: " + cadence.Label()
}
