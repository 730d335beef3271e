package prospect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/crm"
	"leadflow/internal/crm/crmtest"
	crmsqlite "leadflow/internal/crm/sqlite"
	"leadflow/internal/domain"
	"leadflow/internal/places"
	"leadflow/internal/upstream"
	"leadflow/internal/voice"
)

// fakeCaller answers per dialed number. Conversations move through the
// listed statuses, one per read, and stay on the last one.
type fakeCaller struct {
	mu      sync.Mutex
	starts  map[string]voice.CallStart
	errs    map[string]error
	flows   map[string][]voice.Conversation
	convErr error
	dialed  []string
	vars    map[string]string
	reads   map[string]int
}

func newCaller() *fakeCaller {
	return &fakeCaller{
		starts: map[string]voice.CallStart{},
		errs:   map[string]error{},
		flows:  map[string][]voice.Conversation{},
		reads:  map[string]int{},
	}
}

func (f *fakeCaller) StartOutboundCall(_ context.Context, to string, vars map[string]string) (voice.CallStart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, to)
	f.vars = vars
	return f.starts[to], f.errs[to]
}

func (f *fakeCaller) Conversation(_ context.Context, id string) (voice.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return voice.Conversation{}, f.convErr
	}
	flow := f.flows[id]
	if len(flow) == 0 {
		return voice.Conversation{ConversationID: id, Status: voice.StatusInProgress}, nil
	}
	i := min(f.reads[id], len(flow)-1)
	f.reads[id]++
	return flow[i], nil
}

type fakePlaces struct{ place *places.Place }

func (f fakePlaces) SearchText(context.Context, string) (*places.Place, error) { return f.place, nil }
func (f fakePlaces) Get(context.Context, string) (*places.Place, error)        { return f.place, nil }

var fast = Options{PollInterval: time.Millisecond, PollTimeout: 50 * time.Millisecond, AnalysisRetries: 3, AnalysisDelay: time.Millisecond}

func doneConversation(id string) voice.Conversation {
	return voice.Conversation{
		ConversationID: id,
		Status:         voice.StatusDone,
		Transcript: []voice.TranscriptEntry{
			{Role: "agent", Message: "Hola, ¿hablo con el Hotel Sol?"},
			{Role: "user", Message: "RecepciÃ³n, buenas tardes"},
		},
		Analysis: &voice.Analysis{DataCollectionResults: map[string]voice.DataResult{
			"hotel_name":           {Value: "Hotel Sol"},
			"num_rooms":            {Value: "unas 12 habitaciones"},
			"decision_maker_name":  {Value: "María de los Ángeles López"},
			"decision_maker_email": {Value: "maria@hotelsol.pe"},
			"date_and_time":        {Value: "martes 10am"},
		}},
		Metadata: map[string]any{"start_time_unix_secs": 1700000000.0, "end_time_unix_secs": 1700000095.5},
	}
}

func setup(t *testing.T) (*crmsqlite.Store, *crmtest.Faulty, *fakeCaller) {
	store := crmtest.NewStore(t)
	return store, crmtest.Wrap(store), newCaller()
}

func run(t *testing.T, s *Service, id string) Result {
	t.Helper()
	out, err := s.Run(context.Background(), id)
	require.NoError(t, err)
	return out.(Result)
}

func companyNotes(t *testing.T, store *crmsqlite.Store, id string) []domain.Record {
	t.Helper()
	recs, err := crm.AssociatedRecords(context.Background(), store, id, crm.Notes, crm.NoteProperties)
	require.NoError(t, err)
	return recs
}

func TestProspectConnectsOnContactPhone(t *testing.T) {
	store, faulty, caller := setup(t)
	ctx := context.Background()
	id := crmtest.Company(t, store, domain.Properties{
		"name": "Hotel Sol", "city": "Lima", "country": "Peru", "phone": "51 1 555 0000",
		"agente": domain.AgentProspecting,
	})
	contactID, err := store.CreateContact(ctx, id, domain.Properties{"firstname": "Ana", "jobtitle": "Recepción", "mobilephone": "+51 999 111 222"})
	require.NoError(t, err)

	caller.starts["+51 1 555 0000"] = voice.CallStart{Success: false, Message: "SIP 486 busy", ConversationID: "c1"}
	caller.starts["+51 999 111 222"] = voice.CallStart{Success: true, ConversationID: "c2"}
	caller.flows["c2"] = []voice.Conversation{
		{ConversationID: "c2", Status: voice.StatusInProgress},
		{ConversationID: "c2", Status: voice.StatusDone},
		doneConversation("c2"),
	}

	svc := New(faulty, caller, nil, fast, zerolog.Nop())
	res := run(t, svc, id)

	require.Equal(t, StatusCompleted, res.Status, res.Message)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, domain.CallAttempt{PhoneNumber: "+51 1 555 0000", Source: "company", Status: domain.CallFailed, ConversationID: "c1", Error: "SIP 486 busy"}, res.Attempts[0])
	assert.Equal(t, "contact:"+contactID+":mobile", res.Attempts[1].Source)
	assert.Equal(t, domain.CallConnected, res.Attempts[1].Status)
	assert.Equal(t, "Agente: Hola, ¿hablo con el Hotel Sol?\nHotel: Recepción, buenas tardes", res.Transcript)
	assert.Equal(t, "unas 12 habitaciones", res.Data.NumRooms)

	assert.Equal(t, "Hotel Sol", caller.vars["hotel_name"])
	assert.Equal(t, "Ana (Recepción)", caller.vars["known_contacts"])
	assert.Equal(t, "Ninguna", caller.vars["recent_notes"])

	rec, err := store.GetCompany(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rec.Get("agente"))
	assert.Equal(t, "Hormiga", rec.Get("market_fit"))

	contacts, err := crm.AssociatedRecords(ctx, store, id, crm.Contacts, crm.ContactProperties)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "María", contacts[1].Get("firstname"))
	assert.Equal(t, "de los Ángeles López", contacts[1].Get("lastname"))
	assert.Equal(t, "maria@hotelsol.pe", contacts[1].Get("email"))

	calls, err := crm.AssociatedRecords(ctx, store, id, crm.Calls, crm.CallProperties)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, res.CallID, calls[0].ID)
	assert.Equal(t, "+51 999 111 222", calls[0].Get("hs_call_to_number"))
	assert.Equal(t, "95500", calls[0].Get("hs_call_duration"))
	assert.Contains(t, calls[0].Get("hs_call_body"), "Habitaciones: unas 12 habitaciones")

	notes := companyNotes(t, store, id)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Get("hs_note_body"), "Llamada conectada")
}

func TestProspectNoPhone(t *testing.T) {
	store, faulty, caller := setup(t)
	id := crmtest.Company(t, store, domain.Properties{"name": "Hotel Mudo", "agente": domain.AgentProspecting})

	res := run(t, New(faulty, caller, nil, fast, zerolog.Nop()), id)

	assert.Equal(t, StatusNoPhone, res.Status)
	assert.Empty(t, caller.dialed)
	rec, err := store.GetCompany(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, rec.Get("agente"))
	notes := companyNotes(t, store, id)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Get("hs_note_body"), "no_phone")
}

func TestProspectAllFailed(t *testing.T) {
	store, faulty, caller := setup(t)
	ctx := context.Background()
	id := crmtest.Company(t, store, domain.Properties{"name": "Hotel", "phone": "+56 2 1111 1111"})
	_, err := store.CreateContact(ctx, id, domain.Properties{"phone": "56 2 1111 1111", "mobilephone": "+56 9 2222 2222"})
	require.NoError(t, err)
	caller.errs["+56 2 1111 1111"] = &upstream.Error{Service: "ElevenLabs", StatusCode: 500}
	caller.starts["+56 9 2222 2222"] = voice.CallStart{Success: true, ConversationID: "slow"}

	res := run(t, New(faulty, caller, nil, fast, zerolog.Nop()), id)

	assert.Equal(t, StatusAllFailed, res.Status)
	assert.Equal(t, []string{"+56 2 1111 1111", "+56 9 2222 2222"}, caller.dialed, "duplicate digits are dialed once")
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, domain.CallError, res.Attempts[0].Status)
	assert.Equal(t, "HTTP 500", res.Attempts[0].Error)
	assert.Equal(t, domain.CallFailed, res.Attempts[1].Status)
	assert.Equal(t, "Conversation ended with status: failed", res.Attempts[1].Error, "a poll timeout reads as failed")

	assert.Len(t, companyNotes(t, store, id), 1)
	calls, err := crm.AssociatedRecords(ctx, store, id, crm.Calls, crm.CallProperties)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestProspectCallNotStarted(t *testing.T) {
	store, faulty, caller := setup(t)
	id := crmtest.Company(t, store, domain.Properties{"name": "Hotel", "phone": "+56211111111"})
	caller.starts["+56211111111"] = voice.CallStart{}

	res := run(t, New(faulty, caller, nil, fast, zerolog.Nop()), id)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "Call not started", res.Attempts[0].Error)
}

func TestProspectKeepsExistingMarketFitAndFillsState(t *testing.T) {
	store, faulty, caller := setup(t)
	id := crmtest.Company(t, store, domain.Properties{"name": "Hotel Sol", "phone": "+51 1 555 0000", "market_fit": "Elefante"})
	caller.starts["+51 1 555 0000"] = voice.CallStart{Success: true, ConversationID: "c"}
	caller.flows["c"] = []voice.Conversation{doneConversation("c")}
	pl := fakePlaces{place: &places.Place{AddressComponents: []places.AddressComponent{
		{LongText: "Lima", Types: []string{"administrative_area_level_1"}},
	}}}

	res := run(t, New(faulty, caller, pl, fast, zerolog.Nop()), id)

	require.Equal(t, StatusCompleted, res.Status)
	rec, err := store.GetCompany(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Elefante", rec.Get("market_fit"))
	assert.Equal(t, "Lima", rec.Get("state"))
}

func TestProspectUpdatesExistingDecisionMaker(t *testing.T) {
	store, faulty, caller := setup(t)
	ctx := context.Background()
	id := crmtest.Company(t, store, domain.Properties{"name": "Hotel Sol", "phone": "+51 1 555 0000"})
	existing, err := store.CreateContact(ctx, id, domain.Properties{"email": "MARIA@hotelsol.pe", "firstname": "Mari"})
	require.NoError(t, err)
	caller.starts["+51 1 555 0000"] = voice.CallStart{Success: true, ConversationID: "c"}
	caller.flows["c"] = []voice.Conversation{doneConversation("c")}

	run(t, New(faulty, caller, nil, fast, zerolog.Nop()), id)

	contacts, err := crm.AssociatedRecords(ctx, store, id, crm.Contacts, crm.ContactProperties)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, existing, contacts[0].ID)
	assert.Equal(t, "Mari", contacts[0].Get("firstname"), "populated fields are kept")
	assert.Equal(t, "de los Ángeles López", contacts[0].Get("lastname"))
}

func TestProspectConversationReadFailure(t *testing.T) {
	store, faulty, caller := setup(t)
	id := crmtest.Company(t, store, domain.Properties{"name": "Hotel", "phone": "+56211111111", "agente": domain.AgentProspecting})
	caller.starts["+56211111111"] = voice.CallStart{Success: true, ConversationID: "c"}
	caller.flows["c"] = []voice.Conversation{{ConversationID: "c", Status: voice.StatusDone}}

	svc := New(faulty, caller, nil, fast, zerolog.Nop())
	faulty.SetHook(func(method string, _ ...any) error {
		if method == "CreateCall" {
			return errors.New("calls api down")
		}
		return nil
	})
	res := run(t, svc, id)

	assert.Equal(t, StatusCompleted, res.Status, "registering the call is best-effort")
	assert.Empty(t, res.CallID)
	require.NotNil(t, res.Data)
	assert.True(t, res.Data.Empty())

	caller.convErr = &upstream.Error{Service: "ElevenLabs", StatusCode: 503}
	res = run(t, svc, id)
	assert.Equal(t, StatusAllFailed, res.Status)
	assert.Equal(t, "HTTP 503", res.Attempts[0].Error)
}

func TestPhoneList(t *testing.T) {
	contacts := []domain.Record{
		{ID: "7", Properties: domain.Properties{"phone": "+56 2 1111 1111", "mobilephone": "56911112222"}},
		{ID: "8", Properties: domain.Properties{"phone": " "}},
	}
	got := phoneList(domain.Properties{"phone": "56-2-1111-1111"}, contacts)
	assert.Equal(t, []phone{
		{number: "+56-2-1111-1111", source: "company"},
		{number: "+56911112222", source: "contact:7:mobile"},
	}, got)
}

func TestExtract(t *testing.T) {
	conv := voice.Conversation{Analysis: &voice.Analysis{ExtractedData: map[string]any{"num_rooms": 14.0, "hotel_name": "Posada"}}}
	d := extract(conv)
	assert.Equal(t, "14", d.NumRooms)
	assert.Equal(t, "Posada", d.HotelName)

	conv.Analysis.DataCollectionResults = map[string]voice.DataResult{"hotel_name": {Value: "Posada del Sol"}}
	assert.Equal(t, domain.CallData{HotelName: "Posada del Sol"}, extract(conv), "data collection results win")
	assert.True(t, extract(voice.Conversation{}).Empty())
}

func TestCallMarketFit(t *testing.T) {
	for rooms, want := range map[int]string{2: "Hormiga", 13: "Hormiga", 14: "Conejo", 28: "Elefante"} {
		assert.Equal(t, want, callMarketFit(rooms), rooms)
	}
	n, ok := parseRooms("aprox. 30 habitaciones")
	assert.True(t, ok)
	assert.Equal(t, 30, n)
	_, ok = parseRooms("no sabe")
	assert.False(t, ok)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("  Juan   García ")
	assert.Equal(t, "Juan", first)
	assert.Equal(t, "García", last)
	first, last = splitName("Juan")
	assert.Equal(t, "Juan", first)
	assert.Empty(t, last)
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "HTTP 404", describeError(&upstream.Error{StatusCode: 404}))
	assert.Equal(t, "HTTP 429", describeError(&upstream.RateLimitError{Service: "ElevenLabs"}))
	assert.Equal(t, "Tiempo de espera agotado", describeError(context.DeadlineExceeded))
	assert.Equal(t, "boom", describeError(errors.New("boom")))
}
