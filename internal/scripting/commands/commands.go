// Package commands turns serializable action descriptors into runnable
// queue actions. The same descriptors are recorded into loops and replayed.
package commands

import (
	"errors"
	"fmt"
	"strconv"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/protocol"
	"molt/internal/scripting/queue"
)

// Descriptor types understood by Build
const (
	TypeTravel        = "travel"
	TypeDock          = "dock"
	TypeUndock        = "undock"
	TypeJump          = "jump"
	TypeMine          = "mine"
	TypeMineN         = "mine_n"
	TypeMineFull      = "mine_full"
	TypeMinePct       = "mine_pct"
	TypeDepositAll    = "deposit_all"
	TypeWithdrawAll   = "withdraw_all"
	TypeDepositItems  = "deposit_items"
	TypeWithdrawItems = "withdraw_items"
	TypeAttack        = "attack"
	TypeScan          = "scan"
	TypeSetHomeBase   = "set_home_base"
	TypeRepair        = "repair"
	TypeRefuel        = "refuel"
	TypeSurveySystem  = "survey_system"
	TypeSell          = "sell"
	TypeBuy           = "buy"
	TypeCraft         = "craft"
	TypeWait          = "wait"
)

// DefaultMinePct is the cargo fill mine_pct stops at when no target is given
const DefaultMinePct = 80

// ErrUnknownCommand is returned by Build for an unrecognized descriptor type
var ErrUnknownCommand = errors.New("unknown command")

// Sender writes a command to the server
type Sender interface {
	Send(cmd api.OutboundCommand)
}

// Action is a descriptor resolved into something the queue can run
type Action struct {
	Label   string
	Exec    queue.Executor
	Options queue.Options
}

// Interpreter builds actions against the live session state. Conditional
// actions read state when they run, not when they are built.
type Interpreter struct {
	state  *game.State
	sender Sender
	queue  *queue.Queue
}

func New(state *game.State, sender Sender, q *queue.Queue) *Interpreter {
	return &Interpreter{state: state, sender: sender, queue: q}
}

// Enqueue builds cmd and appends it to the queue
func (in *Interpreter) Enqueue(cmd api.ActionCommand) (int64, error) {
	action, err := in.Build("", cmd)
	if err != nil {
		return 0, err
	}
	return in.queue.Enqueue(action.Label, action.Exec, action.Options), nil
}

// Build resolves cmd. An empty label is replaced by a generated one.
func (in *Interpreter) Build(label string, cmd api.ActionCommand) (Action, error) {
	p := params(cmd.Params)
	descriptor := cmd
	opts := queue.Options{Command: &descriptor}

	var (
		exec  queue.Executor
		title string
	)
	switch cmd.Type {
	case TypeTravel:
		poi := p.str("poiId")
		if poi == "" {
			return Action{}, missing(cmd.Type, "poiId")
		}
		title = "Travel to " + in.poiName(poi)
		exec = in.sendFunc(protocol.Travel(poi))
	case TypeDock:
		station := p.str("stationId")
		title = "Dock"
		exec = in.sendFunc(protocol.Dock(station))
	case TypeUndock:
		title = "Undock"
		exec = in.sendFunc(protocol.Undock())
	case TypeJump:
		system := p.str("systemId")
		if system == "" {
			return Action{}, missing(cmd.Type, "systemId")
		}
		name := p.str("systemName")
		if name == "" {
			name = system
		}
		title = "Jump to " + name
		exec = in.sendFunc(protocol.Jump(system))
	case TypeMine:
		title = "Mine"
		exec = in.sendFunc(protocol.Mine(p.str("asteroidId")))
	case TypeMineN:
		count := p.integer("count", 1)
		current := p.integer("current", 1)
		title = fmt.Sprintf("Mine [%d/%d]", current, count)
		exec = in.sendFunc(protocol.Mine(p.str("asteroidId")))
	case TypeMineFull:
		title = "Mine until full"
		exec = in.mineUntil(label, title, opts, p.str("asteroidId"), 100)
	case TypeMinePct:
		target := p.number("targetPct", DefaultMinePct)
		title = fmt.Sprintf("Mine until %.0f%%", target)
		exec = in.mineUntil(label, title, opts, p.str("asteroidId"), target)
	case TypeDepositAll:
		title = "Deposit All"
		opts.ContinueOnError = true
		exec = in.drain(labelOr(label, title), opts, "[Base] Deposit All done", in.cargoItems, protocol.DepositItems)
	case TypeWithdrawAll:
		title = "Withdraw All"
		opts.ContinueOnError = true
		exec = in.drain(labelOr(label, title), opts, "[Base] Withdraw All done", in.storageItems, protocol.WithdrawItems)
	case TypeDepositItems, TypeWithdrawItems:
		item := p.str("itemId")
		quantity := p.integer("quantity", 0)
		if item == "" || quantity <= 0 {
			return Action{}, missing(cmd.Type, "itemId/quantity")
		}
		if cmd.Type == TypeDepositItems {
			title = fmt.Sprintf("Deposit %s x%d", item, quantity)
			exec = in.sendFunc(protocol.DepositItems(item, quantity))
		} else {
			title = fmt.Sprintf("Withdraw %s x%d", item, quantity)
			exec = in.sendFunc(protocol.WithdrawItems(item, quantity))
		}
	case TypeAttack:
		target := p.str("targetId")
		if target == "" {
			return Action{}, missing(cmd.Type, "targetId")
		}
		title = "Attack " + target
		exec = in.sendFunc(protocol.Attack(target))
	case TypeScan:
		title = "Scan"
		exec = in.sendFunc(protocol.Scan(p.str("targetId")))
	case TypeSetHomeBase:
		base := p.str("baseId")
		if base == "" {
			return Action{}, missing(cmd.Type, "baseId")
		}
		title = "Set home base"
		exec = in.sendFunc(protocol.SetHomeBase(base))
	case TypeRepair:
		title = "Repair"
		exec = in.sendFunc(protocol.Repair())
	case TypeRefuel:
		title = "Refuel"
		exec = in.sendFunc(protocol.Refuel(p.integer("quantity", 0), p.str("itemId")))
	case TypeSurveySystem:
		title = "Survey system"
		exec = in.sendFunc(protocol.SurveySystem())
	case TypeSell, TypeBuy:
		item := p.str("itemId")
		quantity := p.integer("quantity", 0)
		if item == "" || quantity <= 0 {
			return Action{}, missing(cmd.Type, "itemId/quantity")
		}
		price := p.integer("price", 0)
		if cmd.Type == TypeSell {
			title = fmt.Sprintf("Sell %s x%d", item, quantity)
			exec = in.sendFunc(protocol.Sell(item, quantity, price))
		} else {
			title = fmt.Sprintf("Buy %s x%d", item, quantity)
			exec = in.sendFunc(protocol.Buy(item, quantity, price))
		}
	case TypeCraft:
		recipe := p.str("recipeId")
		if recipe == "" {
			return Action{}, missing(cmd.Type, "recipeId")
		}
		count := p.integer("count", 1)
		title = fmt.Sprintf("Craft %s x%d", recipe, count)
		exec = in.sendFunc(protocol.Craft(recipe, count))
	case TypeWait:
		// Spends one tick on a harmless status refresh
		title = "Wait"
		exec = in.sendFunc(protocol.GetStatus())
	default:
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}

	return Action{Label: labelOr(label, title), Exec: exec, Options: opts}, nil
}

func (in *Interpreter) sendFunc(cmd api.OutboundCommand) queue.Executor {
	return func() error {
		in.sender.Send(cmd)
		return nil
	}
}

func (in *Interpreter) poiName(id string) string {
	if poi, ok := in.state.System.POI(id); ok && poi.Name != "" {
		return poi.Name
	}
	return id
}

// mineUntil mines once per tick until the hold reaches target percent
func (in *Interpreter) mineUntil(label, title string, opts queue.Options, asteroid string, target float64) queue.Executor {
	return in.queue.Recurring(labelOr(label, title), opts, func() (queue.Step, error) {
		pct := in.state.Ship.CargoPercent()
		if pct >= target {
			in.state.Events.Addf(api.EventInfo, "[Mining] Cargo %.0f%%, stopping", pct)
			return queue.Done, nil
		}
		in.sender.Send(protocol.Mine(asteroid))
		return queue.Continue, nil
	})
}

// drain moves one stack per tick until every stack seen has been moved once
func (in *Interpreter) drain(label string, opts queue.Options, doneMsg string, items func() []game.CargoItem, move func(string, int) api.OutboundCommand) queue.Executor {
	moved := map[string]bool{}
	pending := func() []game.CargoItem {
		var out []game.CargoItem
		for _, item := range items() {
			if item.Quantity > 0 && !moved[item.ItemID] {
				out = append(out, item)
			}
		}
		return out
	}
	return in.queue.Recurring(label, opts, func() (queue.Step, error) {
		left := pending()
		if len(left) == 0 {
			in.state.Events.Add(api.EventInfo, doneMsg)
			return queue.Done, nil
		}
		first := left[0]
		in.sender.Send(move(first.ItemID, first.Quantity))
		moved[first.ItemID] = true
		if len(left) == 1 {
			in.state.Events.Add(api.EventInfo, doneMsg)
			return queue.Done, nil
		}
		return queue.Continue, nil
	})
}

func (in *Interpreter) cargoItems() []game.CargoItem {
	return in.state.Ship.Cargo
}

func (in *Interpreter) storageItems() []game.CargoItem {
	if in.state.Base.Storage == nil {
		return nil
	}
	return in.state.Base.Storage.Items
}

func labelOr(label, fallback string) string {
	if label != "" {
		return label
	}
	return fallback
}

func missing(kind, param string) error {
	return fmt.Errorf("%s: missing %s", kind, param)
}

// params reads loosely typed descriptor parameters. Numbers arrive as
// float64 from JSON, int from code and sometimes as strings from YAML.
type params map[string]any

func (p params) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p params) number(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (p params) integer(key string, def int) int {
	return int(p.number(key, float64(def)))
}
