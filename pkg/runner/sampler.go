// Package runner drives load against the target: the sampler produces
// requests from a traffic-scenario string, the pool holds N of them in
// flight, and the scheduler walks the scenario × concurrency grid.
package runner

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/trussbench/trussbench/pkg/models"
)

// Sampler produces the next request to issue. Sample is called concurrently
// from every worker in the pool.
type Sampler interface {
	Sample() (models.UserRequest, error)
}

// Traffic scenario grammar. The scenario string is opaque to everything but
// the sampler:
//
//	D(in,out)                    deterministic input/output token counts
//	U(inMin,inMax,outMin,outMax) uniform input/output token counts
var (
	deterministicRe = regexp.MustCompile(`^D\((\d+),(\d+)\)$`)
	uniformRe       = regexp.MustCompile(`^U\((\d+),(\d+),(\d+),(\d+)\)$`)
)

type lengthDist struct {
	inMin, inMax   int
	outMin, outMax int
}

func parseScenario(scenario string) (lengthDist, error) {
	s := strings.TrimSpace(scenario)
	if m := deterministicRe.FindStringSubmatch(s); m != nil {
		in, _ := strconv.Atoi(m[1])
		out, _ := strconv.Atoi(m[2])
		return lengthDist{inMin: in, inMax: in, outMin: out, outMax: out}, nil
	}
	if m := uniformRe.FindStringSubmatch(s); m != nil {
		d := lengthDist{}
		d.inMin, _ = strconv.Atoi(m[1])
		d.inMax, _ = strconv.Atoi(m[2])
		d.outMin, _ = strconv.Atoi(m[3])
		d.outMax, _ = strconv.Atoi(m[4])
		if d.inMax < d.inMin || d.outMax < d.outMin {
			return lengthDist{}, fmt.Errorf("scenario %q: max below min", scenario)
		}
		return d, nil
	}
	return lengthDist{}, fmt.Errorf("unknown traffic scenario %q", scenario)
}

// vocabulary for synthetic prompts; one word approximates one token.
var vocabulary = strings.Fields(
	"the quick brown fox jumps over a lazy dog while seven wizards brew " +
		"quartz elixirs beneath vexing moonlit skies near frozen harbor towns")

// syntheticImage is a 1x1 PNG data URL attached to image-chat requests.
const syntheticImage = "data:image/png;base64," +
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// ScenarioSampler generates synthetic requests whose prompt and output
// lengths follow the scenario's distribution.
type ScenarioSampler struct {
	scenario string
	model    string
	task     models.Task
	dist     lengthDist

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScenarioSampler parses the scenario string. An unknown scenario is a
// configuration error; the run that would have used it is marked failed.
func NewScenarioSampler(scenario, model string, task models.Task, seed int64) (*ScenarioSampler, error) {
	dist, err := parseScenario(scenario)
	if err != nil {
		return nil, err
	}
	return &ScenarioSampler{
		scenario: scenario,
		model:    model,
		task:     task,
		dist:     dist,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Scenario returns the scenario string this sampler was built from.
func (s *ScenarioSampler) Scenario() string { return s.scenario }

func (s *ScenarioSampler) sampleLengths() (in, out int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in = s.dist.inMin
	if s.dist.inMax > s.dist.inMin {
		in += s.rng.Intn(s.dist.inMax - s.dist.inMin + 1)
	}
	out = s.dist.outMin
	if s.dist.outMax > s.dist.outMin {
		out += s.rng.Intn(s.dist.outMax - s.dist.outMin + 1)
	}
	return in, out
}

// Sample implements Sampler.
func (s *ScenarioSampler) Sample() (models.UserRequest, error) {
	in, out := s.sampleLengths()
	prompt := buildPrompt(in)

	switch s.task {
	case models.TaskChat:
		return &models.ChatRequest{
			Model:            s.model,
			Prompt:           prompt,
			NumPrefillTokens: in,
			MaxTokens:        out,
		}, nil
	case models.TaskImageChat:
		return &models.ImageChatRequest{
			ChatRequest: models.ChatRequest{
				Model:            s.model,
				Prompt:           prompt,
				NumPrefillTokens: in,
				MaxTokens:        out,
			},
			ImageContent: []string{syntheticImage},
		}, nil
	case models.TaskEmbeddings:
		return &models.EmbeddingRequest{
			Model:            s.model,
			Input:            []string{prompt},
			NumPrefillTokens: in,
		}, nil
	default:
		return nil, fmt.Errorf("sampler does not support task %q", s.task)
	}
}

// buildPrompt produces n whitespace-separated words.
func buildPrompt(n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(n * 6)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(vocabulary[i%len(vocabulary)])
	}
	return b.String()
}
