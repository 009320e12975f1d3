package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/session"
)

const (
	LevelMaster      = "master-distributor"
	LevelDistributor = "distributor"
	LevelRetailer    = "retailer"
)

// UnassignedID is the synthetic node holding members whose parent is
// missing or unknown.
const UnassignedID = "unassigned"

type Node struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Level    string  `json:"level"`
	ParentID string  `json:"parentId,omitempty"`
	Children []*Node `json:"children"`
}

type Tree struct {
	Roots []*Node `json:"roots"`
	// Counts per level, including unassigned members.
	Counts map[string]int `json:"counts"`
}

// Move reassigns one distributor or retailer to a new parent.
type Move struct {
	Level       string `json:"level"`
	ID          string `json:"id"`
	NewParentID string `json:"newParentId"`
}

type tier struct {
	level       string
	resource    remote.Resource
	parentField string
}

var tiers = [3]tier{
	{level: LevelMaster, resource: remote.Resource{Path: "/master-distributors", Singular: "masterDistributor", Plural: "masterDistributors"}},
	{level: LevelDistributor, resource: remote.Resource{Path: "/distributors", Singular: "distributor", Plural: "distributors"}, parentField: "master_distributor_id"},
	{level: LevelRetailer, resource: remote.Resource{Path: "/retailers", Singular: "retailer", Plural: "retailers"}, parentField: "distributor_id"},
}

type Service struct {
	backend listctl.Backend
	log     *slog.Logger
}

func NewService(backend listctl.Backend) *Service {
	return &Service{backend: backend, log: slog.Default().With("module", "hierarchy")}
}

type snapshot [3][]report.Row

// Load fetches all three tiers at once and builds the tree. Any failed
// fetch fails the whole load.
func (s *Service) Load(ctx context.Context, sess session.Session) (Tree, error) {
	snap, err := s.fetch(ctx, sess)
	if err != nil {
		return Tree{}, err
	}
	return Build(snap[0], snap[1], snap[2]), nil
}

func (s *Service) fetch(ctx context.Context, sess session.Session) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tiers {
		g.Go(func() error {
			rows, err := s.backend.Fetch(gctx, t.resource, sess.Token, nil)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", t.level, err)
			}
			snap[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// Reassign checks the move against the current hierarchy, sends one PATCH
// and returns the refreshed tree.
func (s *Service) Reassign(ctx context.Context, sess session.Session, m Move) (Tree, error) {
	m.Level = strings.ToLower(strings.TrimSpace(m.Level))
	m.ID = strings.TrimSpace(m.ID)
	m.NewParentID = strings.TrimSpace(m.NewParentID)

	idx := -1
	for i, t := range tiers {
		if i > 0 && t.level == m.Level {
			idx = i
		}
	}
	if idx < 0 {
		return Tree{}, &listctl.ValidationError{Fields: map[string]string{"level": "Only distributors and retailers can be moved."}}
	}

	snap, err := s.fetch(ctx, sess)
	if err != nil {
		return Tree{}, err
	}
	t := tiers[idx]
	member, ok := findByID(snap[idx], m.ID)
	if !ok {
		return Tree{}, &listctl.ValidationError{Fields: map[string]string{"id": fmt.Sprintf("No %s with id %s.", t.level, m.ID)}}
	}
	if _, ok := findByID(snap[idx-1], m.NewParentID); !ok {
		return Tree{}, &listctl.ValidationError{Fields: map[string]string{"newParentId": fmt.Sprintf("No %s with id %s.", tiers[idx-1].level, m.NewParentID)}}
	}
	if member.Text(t.parentField) == m.NewParentID {
		return Tree{}, &listctl.ValidationError{Fields: map[string]string{"newParentId": "Already assigned to that parent."}}
	}

	_, err = s.backend.Dispatch(ctx, remote.Mutation{
		Method: http.MethodPatch,
		Path:   t.resource.Path + "/" + url.PathEscape(m.ID),
		Body:   map[string]string{t.parentField: m.NewParentID},
	}, sess.Token)
	if err != nil {
		return Tree{}, err
	}
	s.log.Info("member reassigned", "level", m.Level, "id", m.ID, "parent", m.NewParentID, "by", sess.Identity)
	return s.Load(ctx, sess)
}

// Build links the three flat lists by parent id. Members whose parent does
// not exist go under the Unassigned node, which is only present when needed.
func Build(masters, distributors, retailers []report.Row) Tree {
	tree := Tree{Counts: map[string]int{
		LevelMaster:      len(masters),
		LevelDistributor: len(distributors),
		LevelRetailer:    len(retailers),
	}}
	unassigned := &Node{ID: UnassignedID, Name: "Unassigned", Children: []*Node{}}

	masterNodes := map[string]*Node{}
	for _, row := range masters {
		n := newNode(row, LevelMaster, "")
		masterNodes[n.ID] = n
		tree.Roots = append(tree.Roots, n)
	}

	distNodes := map[string]*Node{}
	for _, row := range distributors {
		parent := row.Text(tiers[1].parentField)
		n := newNode(row, LevelDistributor, parent)
		distNodes[n.ID] = n
		if p, ok := masterNodes[parent]; ok {
			p.Children = append(p.Children, n)
		} else {
			unassigned.Children = append(unassigned.Children, n)
		}
	}

	for _, row := range retailers {
		parent := row.Text(tiers[2].parentField)
		n := newNode(row, LevelRetailer, parent)
		if p, ok := distNodes[parent]; ok {
			p.Children = append(p.Children, n)
		} else {
			unassigned.Children = append(unassigned.Children, n)
		}
	}

	sortNodes(tree.Roots)
	if len(unassigned.Children) > 0 {
		sortNodes(unassigned.Children)
		tree.Roots = append(tree.Roots, unassigned)
	}
	if tree.Roots == nil {
		tree.Roots = []*Node{}
	}
	return tree
}

func newNode(row report.Row, level, parent string) *Node {
	name := row.Text("name")
	if name == "" {
		name = row.Text("business_name")
	}
	return &Node{ID: row.ID(), Name: name, Level: level, ParentID: parent, Children: []*Node{}}
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

func findByID(rows []report.Row, id string) (report.Row, bool) {
	if id == "" {
		return nil, false
	}
	for _, row := range rows {
		if row.ID() == id {
			return row, true
		}
	}
	return nil, false
}

// Find returns the node with id at any depth.
func (t Tree) Find(id string) (*Node, bool) {
	var walk func(nodes []*Node) *Node
	walk = func(nodes []*Node) *Node {
		for _, n := range nodes {
			if n.ID == id {
				return n
			}
			if found := walk(n.Children); found != nil {
				return found
			}
		}
		return nil
	}
	n := walk(t.Roots)
	return n, n != nil
}
