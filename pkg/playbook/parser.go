package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/inventory"
)

// Parser loads playbooks from CUE or YAML sources.
type Parser struct {
	validator *validator.Validate
}

// NewParser creates a playbook parser.
func NewParser() *Parser {
	return &Parser{validator: validator.New()}
}

// LoadFile parses a playbook file, dispatching on extension: .cue is
// evaluated through CUE, .yaml/.yml decodes directly.
func (p *Parser) LoadFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return p.ParseCUE(path, data)
	case ".yaml", ".yml":
		return p.ParseYAML(path, data)
	default:
		return nil, fmt.Errorf("unsupported playbook format %q (want .cue, .yaml or .yml)", ext)
	}
}

// ParseCUE evaluates CUE source and decodes the playbook from it. CUE lets
// playbooks compute task lists, share definitions and constrain fields; the
// decoded result passes through the same validation as YAML.
func (p *Parser) ParseCUE(filename string, data []byte) (*Playbook, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("cue compile failed: %s", cueerrors.Details(err, nil))
	}
	v = v.Eval()
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("cue evaluation failed: %s", cueerrors.Details(err, nil))
	}

	var pb Playbook
	if err := v.Decode(&pb); err != nil {
		return nil, fmt.Errorf("playbook does not match the expected shape: %w", err)
	}
	return p.finish(&pb)
}

// ParseYAML decodes a YAML playbook.
func (p *Parser) ParseYAML(filename string, data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return p.finish(&pb)
}

func (p *Parser) finish(pb *Playbook) (*Playbook, error) {
	if err := p.validator.Struct(pb); err != nil {
		return nil, fmt.Errorf("invalid playbook: %w", err)
	}
	return pb, nil
}

// Check verifies the playbook against an inventory and action catalog without
// running anything: every play's group must resolve and every task list must
// load. This is the whole of `bosun validate`.
func (p *Parser) Check(pb *Playbook, inv *inventory.Inventory, catalog engine.ActionCatalog) error {
	seen := make(map[string]bool, len(pb.Plays))
	for i, play := range pb.Plays {
		if seen[play.Group] {
			return fmt.Errorf("play %d: group %q targeted twice", i, play.Group)
		}
		seen[play.Group] = true

		if inv != nil {
			if _, err := inv.Resolve(play.Group); err != nil {
				return fmt.Errorf("play %d: %w", i, err)
			}
		}
		if _, err := play.EngineTasks(catalog); err != nil {
			return fmt.Errorf("play %d (group %s): %w", i, play.Group, err)
		}
	}
	return nil
}
