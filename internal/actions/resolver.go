// Package actions decides which buttons an item page offers to its viewer.
//
// Resolve is a pure function of the viewer and the listing's ownership and
// status fields. It is evaluated on every render against the latest snapshot
// and keeps no state between calls.
package actions

const (
	StatusOnSale  = "on_sale"
	StatusTrading = "trading"
	StatusSoldOut = "sold_out"
)

// AnonymousUserID identifies a viewer that is not logged in. Stored user ids
// start at 1 so it never matches a seller or a buyer.
const AnonymousUserID int64 = 0

type Kind string

const (
	KindBuy         Kind = "buy"
	KindBump        Kind = "bump"
	KindEdit        Kind = "edit"
	KindTransaction Kind = "transaction"
	KindUnavailable Kind = "unavailable"
)

// Viewer is the user looking at the page
type Viewer struct {
	UserID int64
}

// Item carries the listing fields the decision depends on. BuyerID is zero
// while nobody has bought the item.
type Item struct {
	ID       int64
	SellerID int64
	BuyerID  int64
	Status   string
}

func (i Item) isSeller(v Viewer) bool {
	return v.UserID == i.SellerID
}

func (i Item) isBuyer(v Viewer) bool {
	return i.BuyerID != 0 && v.UserID == i.BuyerID
}

func (i Item) isParty(v Viewer) bool {
	return i.isSeller(v) || i.isBuyer(v)
}

type Tooltip struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Descriptor is one button offered on the page
type Descriptor struct {
	Kind     Kind
	Label    string
	Disabled bool
	Tooltip  *Tooltip
	OnClick  func()
}

// Callbacks perform the actual commands. Each receives the item id. A nil
// callback makes the matching button a no-op.
type Callbacks struct {
	Buy         func(itemID int64)
	Edit        func(itemID int64)
	Bump        func(itemID int64)
	Transaction func(itemID int64)
}

var bumpTooltip = Tooltip{
	Title: "Bump your listing",
	Body:  "Bumping moves the item back to the top of the new arrivals so more buyers see it.",
}

type rule struct {
	name    string
	matches func(v Viewer, i Item) bool
	build   func(i Item, cb Callbacks) []Descriptor
}

// rules are ordered by precedence; the first match supplies the whole list.
// The last entry always matches.
var rules = []rule{
	{
		name: "unavailable",
		matches: func(v Viewer, i Item) bool {
			return i.Status != StatusOnSale && !i.isSeller(v) && !i.isBuyer(v)
		},
		build: func(i Item, cb Callbacks) []Descriptor {
			return []Descriptor{
				{Kind: KindUnavailable, Label: "Sold out", Disabled: true, OnClick: func() {}},
			}
		},
	},
	{
		name: "transaction",
		matches: func(v Viewer, i Item) bool {
			return i.isParty(v) && (i.Status == StatusTrading || i.Status == StatusSoldOut)
		},
		build: func(i Item, cb Callbacks) []Descriptor {
			return []Descriptor{
				{Kind: KindTransaction, Label: "View transaction", OnClick: forward(cb.Transaction, i.ID)},
			}
		},
	},
	{
		name: "owner",
		matches: func(v Viewer, i Item) bool {
			return i.isSeller(v) && i.Status == StatusOnSale
		},
		build: func(i Item, cb Callbacks) []Descriptor {
			tip := bumpTooltip
			return []Descriptor{
				{Kind: KindBump, Label: "Bump", Tooltip: &tip, OnClick: forward(cb.Bump, i.ID)},
				{Kind: KindEdit, Label: "Edit", OnClick: forward(cb.Edit, i.ID)},
			}
		},
	},
	{
		name:    "buy",
		matches: func(Viewer, Item) bool { return true },
		build: func(i Item, cb Callbacks) []Descriptor {
			return []Descriptor{
				{Kind: KindBuy, Label: "Buy", OnClick: forward(cb.Buy, i.ID)},
			}
		},
	},
}

func forward(fn func(int64), itemID int64) func() {
	if fn == nil {
		return func() {}
	}
	return func() { fn(itemID) }
}

// Match returns the name of the rule that decides the buttons for v and i.
func Match(v Viewer, i Item) string {
	return pick(v, i).name
}

// Resolve returns the buttons offered to v on item i. The result is never
// empty.
//
// A status outside on_sale, trading and sold_out is offered as Buy unless the
// viewer is neither seller nor buyer, in which case it shows as unavailable.
func Resolve(v Viewer, i Item, cb Callbacks) []Descriptor {
	return pick(v, i).build(i, cb)
}

func pick(v Viewer, i Item) rule {
	for _, r := range rules {
		if r.matches(v, i) {
			return r
		}
	}
	// unreachable, the buy rule always matches
	return rules[len(rules)-1]
}

// Find returns the first descriptor of the given kind.
func Find(ds []Descriptor, kind Kind) (Descriptor, bool) {
	for _, d := range ds {
		if d.Kind == kind {
			return d, true
		}
	}
	return Descriptor{}, false
}
