package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testClassifier() SymbolClassifier {
	return SymbolClassifier{
		Scheme:      "coarse",
		Inputs:      []string{"short", "long"},
		Outputs:     []string{"ok", "error"},
		ErrorSymbol: "error",
	}
}

func testConfigs() []Configuration {
	return []Configuration{
		{ID: "c0", Level: LevelNominal, ClassifierSchemeID: "coarse", Protocol: ProtocolPassive},
		{ID: "c1", Level: LevelDegraded, ClassifierSchemeID: "fine", Protocol: ProtocolConfirm},
		{ID: "c2", Level: LevelCritical, ClassifierSchemeID: "fine", ModelOverride: "large", Protocol: ProtocolCrosscheck},
	}
}

type memPersister struct {
	mu     sync.Mutex
	active map[string]string
	err    error
}

func (p *memPersister) SaveActive(_ context.Context, channelID, configID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.active == nil {
		p.active = map[string]string{}
	}
	p.active[channelID] = configID
	return nil
}

func (p *memPersister) LoadActive(_ context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.active))
	for k, v := range p.active {
		out[k] = v
	}
	return out, p.err
}

// #endregion helpers

// #region register-tests
func TestRegisterChannelStartsNominal(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))

	active, err := s.Active("extract")
	require.NoError(t, err)
	assert.Equal(t, "c0", active.ID)
	assert.Equal(t, "extract", active.ChannelID)
	assert.Equal(t, []string{"extract"}, s.Channels())
}

func TestRegisterChannelRejectsMalformedSets(t *testing.T) {
	cases := map[string]func([]Configuration) []Configuration{
		"too few": func(c []Configuration) []Configuration { return c[:2] },
		"out of order": func(c []Configuration) []Configuration {
			c[0], c[1] = c[1], c[0]
			return c
		},
		"bad protocol": func(c []Configuration) []Configuration {
			c[1].Protocol = "shout"
			return c
		},
		"duplicate id": func(c []Configuration) []Configuration {
			c[2].ID = "c0"
			return c
		},
		"foreign channel": func(c []Configuration) []Configuration {
			c[0].ChannelID = "other"
			return c
		},
		"no scheme": func(c []Configuration) []Configuration {
			c[2].ClassifierSchemeID = ""
			return c
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewStore(quietLogger(), nil)
			err := s.RegisterChannel("extract", testClassifier(), mutate(testConfigs()))
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestRegisterChannelRejectsBadClassifier(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	assert.ErrorIs(t, s.RegisterChannel("a", nil, testConfigs()), ErrInvalidConfiguration)

	dup := testClassifier()
	dup.Outputs = []string{"ok", "ok"}
	assert.ErrorIs(t, s.RegisterChannel("a", dup, testConfigs()), ErrInvalidConfiguration)
}

func TestRegisterChannelTwice(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))
	err := s.RegisterChannel("extract", testClassifier(), testConfigs())
	assert.True(t, errors.Is(err, ErrChannelExists))
}

func TestRegisterChannelGeneratesIDs(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	configs := testConfigs()
	for i := range configs {
		configs[i].ID = ""
	}
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), configs))
	c2, err := s.Configuration("extract", LevelCritical)
	require.NoError(t, err)
	assert.NotEmpty(t, c2.ID)
}

// #endregion register-tests

// #region swap-tests
func TestCompareAndSwapMovesPointer(t *testing.T) {
	p := &memPersister{}
	s := NewStore(quietLogger(), p)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))

	c2, _ := s.Configuration("extract", LevelCritical)
	require.NoError(t, s.CompareAndSwap(context.Background(), "extract", "c0", c2))

	active, _ := s.Active("extract")
	assert.Equal(t, LevelCritical, active.Level)
	assert.Equal(t, "c2", p.active["extract"])
}

func TestCompareAndSwapStale(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))
	c1, _ := s.Configuration("extract", LevelDegraded)

	err := s.CompareAndSwap(context.Background(), "extract", "c2", c1)
	assert.ErrorIs(t, err, ErrStaleSwitch)
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))
	c1, _ := s.Configuration("extract", LevelDegraded)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CompareAndSwap(context.Background(), "extract", "c0", c1) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestCompareAndSwapPersistFailureStillApplies(t *testing.T) {
	p := &memPersister{err: errors.New("disk gone")}
	s := NewStore(quietLogger(), p)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))
	c1, _ := s.Configuration("extract", LevelDegraded)

	require.NoError(t, s.CompareAndSwap(context.Background(), "extract", "c0", c1))
	active, _ := s.Active("extract")
	assert.Equal(t, "c1", active.ID)
}

func TestRestore(t *testing.T) {
	p := &memPersister{active: map[string]string{"extract": "c1", "ghost": "x"}}
	s := NewStore(quietLogger(), p)
	require.NoError(t, s.RegisterChannel("extract", testClassifier(), testConfigs()))
	require.NoError(t, s.Restore(context.Background()))

	active, _ := s.Active("extract")
	assert.Equal(t, LevelDegraded, active.Level)
}

func TestUnknownChannel(t *testing.T) {
	s := NewStore(quietLogger(), nil)
	_, err := s.Active("nope")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	_, err = s.Classifier("nope")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

// #endregion swap-tests

// #region classifier-tests
func TestSymbolClassifier(t *testing.T) {
	c := testClassifier()
	assert.Equal(t, "short", c.ClassifyInput("short"))
	assert.Equal(t, "", c.ClassifyInput("medium"))
	assert.Equal(t, "ok", c.ClassifyOutput("ok", nil))
	assert.Equal(t, "error", c.ClassifyOutput("ok", errors.New("boom")))
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{
		Scheme: "intent",
		InputRules: []KeywordRule{
			{Symbol: "question", Keywords: []string{"what is", "who is"}, Prefix: true},
			{Symbol: "command", Keywords: []string{"run", "deploy"}},
		},
		InputFallback:  "other",
		OutputRules:    []KeywordRule{{Symbol: "refusal", Keywords: []string{"cannot"}}},
		OutputFallback: "answer",
		ErrorSymbol:    "error",
	}
	assert.Equal(t, "question", c.ClassifyInput("What is the capital?"))
	assert.Equal(t, "command", c.ClassifyInput("please deploy now"))
	assert.Equal(t, "other", c.ClassifyInput("hello"))
	assert.Equal(t, "refusal", c.ClassifyOutput("I cannot do that", nil))
	assert.Equal(t, "error", c.ClassifyOutput(nil, errors.New("x")))
	assert.Equal(t, []string{"question", "command", "other"}, c.InputAlphabet())
	assert.Equal(t, []string{"refusal", "answer", "error"}, c.OutputAlphabet())
}

func TestChangedFields(t *testing.T) {
	cfgs := testConfigs()
	assert.Equal(t, []string{"classifier_scheme_id", "model_override", "protocol"}, cfgs[2].ChangedFields(cfgs[0]))
	assert.Empty(t, cfgs[0].ChangedFields(cfgs[0]))
}

// #endregion classifier-tests
