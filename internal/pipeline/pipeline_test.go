package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/assignee"
	"github.com/birchwoodlabs/voicetask/internal/clickup"
	"github.com/birchwoodlabs/voicetask/internal/config"
	"github.com/birchwoodlabs/voicetask/internal/report"
	"github.com/birchwoodlabs/voicetask/internal/state"
	"github.com/birchwoodlabs/voicetask/internal/tasks"
	"github.com/birchwoodlabs/voicetask/internal/telegram"
)

type pollCall struct {
	chatID string
	window time.Duration
	cursor int64
}

type sentMessage struct {
	chat string
	text string
}

// fakeSource serves canned messages and writes the file id as the audio
// payload so the extractor fake can key off the content.
type fakeSource struct {
	mu      sync.Mutex
	msgs    []telegram.VoiceMessage
	maxSeen int64
	pollErr error
	failDL  map[string]error
	polls   []pollCall
	sent    []sentMessage
}

func (f *fakeSource) RecentVoiceMessages(ctx context.Context, chatID string, window time.Duration, cursor int64) ([]telegram.VoiceMessage, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, pollCall{chatID: chatID, window: window, cursor: cursor})
	if f.pollErr != nil {
		return nil, 0, f.pollErr
	}
	return f.msgs, f.maxSeen, nil
}

func (f *fakeSource) Download(ctx context.Context, fileID, dest string) error {
	if err := f.failDL[fileID]; err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(fileID), 0o600)
}

func (f *fakeSource) SendMessage(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chat: chatID, text: text})
	return nil
}

// fakeExtractor maps audio content to a transcript and a transcript to
// extracted records.
type fakeExtractor struct {
	transcripts map[string]string
	terr        map[string]error
	records     map[string][]*tasks.Record
	eerr        map[string]error
}

func (f *fakeExtractor) Transcribe(ctx context.Context, audioPath string) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}
	key := string(data)
	if err := f.terr[key]; err != nil {
		return "", err
	}
	return f.transcripts[key], nil
}

func (f *fakeExtractor) ExtractTasks(ctx context.Context, transcription string) ([]*tasks.Record, error) {
	if err := f.eerr[transcription]; err != nil {
		return nil, err
	}
	return f.records[transcription], nil
}

type createdTask struct {
	listID  string
	payload *clickup.TaskPayload
}

type reminderCall struct {
	teamID     string
	taskID     string
	remindAt   int64
	assigneeID int64
}

type fakeSink struct {
	created   []createdTask
	reminders []reminderCall
	failNames map[string]error
	nextID    int
}

func (f *fakeSink) CreateTask(ctx context.Context, listID string, payload *clickup.TaskPayload) (string, error) {
	if err := f.failNames[payload.Name]; err != nil {
		return "", err
	}
	f.nextID++
	f.created = append(f.created, createdTask{listID: listID, payload: payload})
	return fmt.Sprintf("task-%d", f.nextID), nil
}

func (f *fakeSink) CreateReminder(ctx context.Context, teamID, taskID string, remindAt int64, assigneeID int64) error {
	f.reminders = append(f.reminders, reminderCall{
		teamID: teamID, taskID: taskID, remindAt: remindAt, assigneeID: assigneeID,
	})
	return nil
}

type fakeMembers struct {
	dir assignee.Directory
}

func (f fakeMembers) Directory(ctx context.Context, listID string) assignee.Directory {
	return f.dir
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clickup:\n  list_id: \"900100\"\n  team_id: team-1\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	cfg.Pipeline.StateFile = filepath.Join(dir, "state.json")
	cfg.Pipeline.LockFile = filepath.Join(dir, "run.lock")
	cfg.Pipeline.CacheFile = filepath.Join(dir, "members.json")
	cfg.Pipeline.OutputDir = filepath.Join(dir, "out")
	return cfg
}

func testPipeline(t *testing.T, cfg *config.Config, src *fakeSource, ex *fakeExtractor, sink *fakeSink, dir assignee.Directory) *Pipeline {
	t.Helper()
	p, err := New(cfg, "-100500", Deps{
		Source:    src,
		Extractor: ex,
		Sink:      sink,
		Members:   fakeMembers{dir: dir},
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	p.tempDir = t.TempDir()
	return p
}

func voiceMsg(updateID int64, fileID, from string) telegram.VoiceMessage {
	return telegram.VoiceMessage{
		UpdateID: updateID,
		FileID:   fileID,
		Duration: 10,
		Date:     time.Now(),
		FromUser: from,
		Kind:     telegram.KindVoice,
		MimeType: "audio/ogg",
	}
}

func mustMillis(t *testing.T, date string) int64 {
	t.Helper()
	ms, err := clickup.EpochMillis(date)
	require.NoError(t, err)
	return ms
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Summary.Enabled = config.Toggle(true)

	src := &fakeSource{
		msgs: []telegram.VoiceMessage{
			voiceMsg(101, "file-A", "Иван"),
			voiceMsg(102, "file-B", "Мария"),
		},
		maxSeen: 102,
	}
	ex := &fakeExtractor{
		transcripts: map[string]string{
			"file-A": "в транскрипте две задачи",
			"file-B": "одна задача",
		},
		records: map[string][]*tasks.Record{
			"в транскрипте две задачи": {
				{
					Name:        "Подготовить отчет",
					Description: "Квартальный отчет",
					DueDate:     "2030-05-10",
					Priority:    2,
					Assignee:    tasks.NameList{"Иван"},
				},
				{Description: "Задача без названия", Priority: 9},
			},
			"одна задача": {
				{Name: "Позвонить клиенту", Assignee: tasks.NameList{"Неизвестный"}},
			},
		},
	}
	sink := &fakeSink{}
	p := testPipeline(t, cfg, src, ex, sink, assignee.Directory{"иван": {11}})

	outcome, err := p.Run(context.Background(), Options{Limit: -1})
	require.NoError(t, err)
	result := outcome.Result

	// Poll used the stored cursor and the configured window.
	require.Len(t, src.polls, 1)
	assert.Equal(t, pollCall{chatID: "-100500", window: time.Hour, cursor: 0}, src.polls[0])

	assert.Equal(t, 3, result.TotalCreated)
	assert.Zero(t, result.TotalFailed)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, 2, result.Messages[0].Created)
	assert.Equal(t, 1, result.Messages[1].Created)
	assert.Equal(t, "в транскрипте две задачи", result.Messages[0].Transcription)

	// Tasks were created in discovery order with resolved annotations.
	require.Len(t, sink.created, 3)
	first := sink.created[0]
	assert.Equal(t, "900100", first.listID)
	assert.Equal(t, "Подготовить отчет", first.payload.Name)
	assert.Equal(t, 2, first.payload.Priority)
	assert.Equal(t, mustMillis(t, "2030-05-10"), first.payload.DueDate)
	assert.Equal(t, []int64{11}, first.payload.Assignees)

	second := sink.created[1]
	assert.Equal(t, "Без названия", second.payload.Name)
	assert.Equal(t, 3, second.payload.Priority, "off-scale priority falls back to the default")
	assert.Zero(t, second.payload.DueDate)
	assert.Empty(t, second.payload.Assignees)

	third := sink.created[2]
	assert.Equal(t, "Позвонить клиенту", third.payload.Name)
	assert.Empty(t, third.payload.Assignees, "unknown mention resolves to nothing")

	recA := result.Messages[0].Tasks[0]
	assert.Equal(t, "task-1", recA.TaskID)
	assert.Equal(t, []int64{11}, recA.AssigneeIDs)
	assert.Equal(t, "task-2", result.Messages[0].Tasks[1].TaskID)
	assert.Equal(t, "task-3", result.Messages[1].Tasks[0].TaskID)

	// One reminder, two hours ahead of the only due date.
	require.Len(t, sink.reminders, 1)
	wantRemind := mustMillis(t, "2030-05-10") - (2 * time.Hour).Milliseconds()
	assert.Equal(t, reminderCall{
		teamID: "team-1", taskID: "task-1", remindAt: wantRemind, assigneeID: 11,
	}, sink.reminders[0])
	assert.Equal(t, wantRemind, recA.ReminderAt)

	// Cursor advanced over the processed batch.
	assert.Equal(t, int64(102), state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Load())

	// Artifacts landed in the output dir and round-trip.
	assert.FileExists(t, outcome.ReportPath)
	assert.FileExists(t, outcome.ArtifactPath)
	loaded, err := report.LoadArtifact(outcome.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.Messages[0].Tasks[0].TaskID)

	// Summary went back to the source chat.
	require.Len(t, src.sent, 1)
	assert.Equal(t, "-100500", src.sent[0].chat)
	assert.Contains(t, src.sent[0].text, "Сообщений: 2")
	assert.Contains(t, src.sent[0].text, "Создано задач: 3")
	assert.Equal(t, src.sent[0].text, outcome.Summary)

	// Temp audio files are gone.
	left, err := os.ReadDir(p.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunNoMessages(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{maxSeen: 500}
	p := testPipeline(t, cfg, src, &fakeExtractor{}, &fakeSink{}, nil)

	outcome, err := p.Run(context.Background(), Options{Limit: -1})
	require.NoError(t, err)

	assert.Empty(t, outcome.Result.Messages)
	assert.Zero(t, outcome.Result.TotalCreated)
	assert.Empty(t, src.sent, "summary stays off by default")

	// The cursor skips over the scanned non-voice updates.
	assert.Equal(t, int64(500), state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Load())

	content, err := os.ReadFile(outcome.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Новых голосовых/аудио сообщений не найдено.")
}

func TestRunDownloadFailure(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{
		msgs: []telegram.VoiceMessage{
			voiceMsg(201, "file-bad", "Иван"),
			voiceMsg(202, "file-ok", "Мария"),
		},
		maxSeen: 202,
		failDL:  map[string]error{"file-bad": fmt.Errorf("server error (502)")},
	}
	ex := &fakeExtractor{
		transcripts: map[string]string{"file-ok": "текст"},
		records: map[string][]*tasks.Record{
			"текст": {{Name: "Задача"}},
		},
	}
	sink := &fakeSink{}
	p := testPipeline(t, cfg, src, ex, sink, nil)

	outcome, err := p.Run(context.Background(), Options{Limit: -1})
	require.NoError(t, err)

	assert.Equal(t, "server error (502)", outcome.Result.Messages[0].Error)
	assert.Empty(t, outcome.Result.Messages[0].Tasks)
	assert.Equal(t, 1, outcome.Result.Messages[1].Created)
	assert.Equal(t, 1, outcome.Result.TotalCreated)

	// A failed message still counts as processed for the cursor.
	assert.Equal(t, int64(202), state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Load())
}

func TestRunExtractionFailure(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{
		msgs:    []telegram.VoiceMessage{voiceMsg(301, "file-A", "Иван")},
		maxSeen: 301,
	}
	ex := &fakeExtractor{
		transcripts: map[string]string{"file-A": "текст"},
		eerr:        map[string]error{"текст": fmt.Errorf("model response is not a task array")},
	}
	sink := &fakeSink{}
	p := testPipeline(t, cfg, src, ex, sink, nil)

	outcome, err := p.Run(context.Background(), Options{Limit: -1})
	require.NoError(t, err)

	msg := outcome.Result.Messages[0]
	assert.Contains(t, msg.Error, "not a task array")
	assert.Empty(t, msg.Transcription, "transcript is not stored when extraction fails")
	assert.Empty(t, sink.created)
}

func TestRunDryRun(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{
		msgs:    []telegram.VoiceMessage{voiceMsg(401, "file-A", "Иван")},
		maxSeen: 401,
	}
	ex := &fakeExtractor{
		transcripts: map[string]string{"file-A": "текст"},
		records: map[string][]*tasks.Record{
			"текст": {{Name: "Задача", DueDate: "2030-05-10"}},
		},
	}
	sink := &fakeSink{}
	p := testPipeline(t, cfg, src, ex, sink, nil)

	outcome, err := p.Run(context.Background(), Options{DryRun: true, Limit: -1})
	require.NoError(t, err)

	assert.Empty(t, sink.created)
	assert.Empty(t, sink.reminders)
	rec := outcome.Result.Messages[0].Tasks[0]
	assert.True(t, rec.DryRun)
	assert.Empty(t, rec.TaskID)
	assert.Equal(t, "2030-05-10", rec.DueDate, "due date is normalized even in dry runs")
	assert.Zero(t, outcome.Result.TotalCreated)
	assert.Contains(t, outcome.Summary, "Режим: dry-run")
}

func TestRunLimit(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{
		msgs: []telegram.VoiceMessage{
			voiceMsg(501, "file-1", "Иван"),
			voiceMsg(502, "file-2", "Мария"),
			voiceMsg(503, "file-3", "Петр"),
		},
		maxSeen: 520,
	}
	ex := &fakeExtractor{
		transcripts: map[string]string{"file-1": "а", "file-2": "б", "file-3": "в"},
		records:     map[string][]*tasks.Record{},
	}
	p := testPipeline(t, cfg, src, ex, &fakeSink{}, nil)

	outcome, err := p.Run(context.Background(), Options{Limit: 2})
	require.NoError(t, err)

	assert.Len(t, outcome.Result.Messages, 2)

	// The cursor stops at the processed batch so the third message is
	// discovered again next run.
	assert.Equal(t, int64(502), state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Load())
}

func TestRunCreateFailure(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{
		msgs:    []telegram.VoiceMessage{voiceMsg(601, "file-A", "Иван")},
		maxSeen: 601,
	}
	ex := &fakeExtractor{
		transcripts: map[string]string{"file-A": "текст"},
		records: map[string][]*tasks.Record{
			"текст": {
				{Name: "Провальная"},
				{Name: "Успешная"},
			},
		},
	}
	sink := &fakeSink{
		failNames: map[string]error{"Провальная": fmt.Errorf("API error (400): bad request")},
	}
	p := testPipeline(t, cfg, src, ex, sink, nil)

	outcome, err := p.Run(context.Background(), Options{Limit: -1})
	require.NoError(t, err)

	msg := outcome.Result.Messages[0]
	assert.Equal(t, 1, msg.Created)
	assert.Equal(t, 1, msg.Failed)
	assert.Equal(t, 1, outcome.Result.TotalCreated)
	assert.Equal(t, 1, outcome.Result.TotalFailed)
	assert.Contains(t, msg.Tasks[0].CreateError, "API error (400)")
	assert.Empty(t, msg.Tasks[0].TaskID)
	assert.Equal(t, "task-1", msg.Tasks[1].TaskID)
}

func TestRunPollFailure(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{pollErr: fmt.Errorf("telegram API error: Unauthorized")}
	p := testPipeline(t, cfg, src, &fakeExtractor{}, &fakeSink{}, nil)

	_, err := p.Run(context.Background(), Options{Limit: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to poll voice messages")

	// The cursor stays put, but a report recording the failure is written.
	assert.Zero(t, state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Load())
	reports, err := filepath.Glob(filepath.Join(cfg.Pipeline.OutputDir, report.ReportPattern))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	content, err := os.ReadFile(reports[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "telegram API error: Unauthorized")

	artifacts, err := filepath.Glob(filepath.Join(cfg.Pipeline.OutputDir, report.ArtifactPattern))
	require.NoError(t, err)
	assert.Empty(t, artifacts, "a failed poll leaves nothing to replay")
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{msgs: []telegram.VoiceMessage{voiceMsg(101, "file-A", "Иван")}, maxSeen: 101}
	p := testPipeline(t, cfg, src, &fakeExtractor{}, &fakeSink{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, Options{Limit: -1})
	require.ErrorIs(t, err, context.Canceled)

	// An interrupted run leaves no trace, so the next run redoes it.
	assert.Zero(t, state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Load())
	assert.NoDirExists(t, cfg.Pipeline.OutputDir)
}

func TestRunUsesStoredCursor(t *testing.T) {
	cfg := testConfig(t)
	_, err := state.NewStore(cfg.Pipeline.StateFile, zap.NewNop()).Advance(100)
	require.NoError(t, err)

	src := &fakeSource{maxSeen: 100}
	p := testPipeline(t, cfg, src, &fakeExtractor{}, &fakeSink{}, nil)

	_, err = p.Run(context.Background(), Options{Limit: -1})
	require.NoError(t, err)

	require.Len(t, src.polls, 1)
	assert.Equal(t, int64(100), src.polls[0].cursor)
}

func TestStoreTranscription(t *testing.T) {
	long := "длинная расшифровка сообщения"

	tests := []struct {
		name          string
		enabled       bool
		limit         int
		wantText      string
		wantTruncated bool
	}{
		{name: "disabled", enabled: false, limit: 100, wantText: ""},
		{name: "zero limit disables", enabled: true, limit: 0, wantText: ""},
		{name: "under limit", enabled: true, limit: 100, wantText: long},
		{name: "negative limit stores all", enabled: true, limit: -1, wantText: long},
		{name: "trailing space stripped", enabled: true, limit: 8, wantText: "длинная…", wantTruncated: true},
		{name: "truncated at rune boundary", enabled: true, limit: 16, wantText: "длинная расшифро…", wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &tasks.MessageLog{}
			storeTranscription(log, long, tt.enabled, tt.limit)
			assert.Equal(t, tt.wantText, log.Transcription)
			assert.Equal(t, tt.wantTruncated, log.TranscriptionTruncated)
		})
	}
}

func TestRecreate(t *testing.T) {
	cfg := testConfig(t)
	artifact := &tasks.RunResult{
		RunID:  "run-1",
		ListID: "900100",
		Messages: []*tasks.MessageLog{
			{
				FromUser: "Иван",
				Tasks: []*tasks.Record{
					{Name: "Уже создана", TaskID: "task-exists"},
					{Name: "Провалена", CreateError: "server error (502)", AssigneeIDs: []int64{5}, DueDate: "2030-01-01"},
					{Name: "Сухой прогон", DryRun: true},
				},
			},
		},
	}
	require.NoError(t, os.MkdirAll(cfg.Pipeline.OutputDir, 0o700))
	path := filepath.Join(cfg.Pipeline.OutputDir, "tasks_to_create_20260823_100000.json")
	require.NoError(t, report.WriteArtifactTo(path, artifact))

	sink := &fakeSink{}
	result, outPath, err := Recreate(context.Background(), cfg, sink, RecreateOptions{}, zap.NewNop())
	require.NoError(t, err)

	// Only the failed and dry-run tasks are replayed.
	require.Len(t, sink.created, 2)
	assert.Equal(t, "Провалена", sink.created[0].payload.Name)
	assert.Equal(t, []int64{5}, sink.created[0].payload.Assignees)
	assert.Equal(t, mustMillis(t, "2030-01-01"), sink.created[0].payload.DueDate)
	assert.Equal(t, "Сухой прогон", sink.created[1].payload.Name)

	recs := result.Messages[0].Tasks
	assert.Equal(t, "task-exists", recs[0].TaskID)
	assert.Equal(t, "task-1", recs[1].TaskID)
	assert.Empty(t, recs[1].CreateError)
	assert.Equal(t, "task-2", recs[2].TaskID)
	assert.False(t, recs[2].DryRun)
	assert.Equal(t, 2, result.TotalCreated)
	assert.Zero(t, result.TotalFailed)

	assert.Equal(t, path[:len(path)-len(".json")]+"_with_clickup.json", outPath)
	saved, err := report.LoadArtifact(outPath)
	require.NoError(t, err)
	assert.Equal(t, "task-1", saved.Messages[0].Tasks[1].TaskID)

	// A second pass with All replays everything from the original file.
	sink2 := &fakeSink{}
	_, _, err = Recreate(context.Background(), cfg, sink2,
		RecreateOptions{ArtifactPath: path, All: true}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, sink2.created, 3)
}

func TestRecreateWithoutArtifacts(t *testing.T) {
	cfg := testConfig(t)
	_, _, err := Recreate(context.Background(), cfg, &fakeSink{}, RecreateOptions{}, zap.NewNop())
	require.Error(t, err)
}

func TestRecreateMissingListID(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Pipeline.OutputDir, 0o700))
	path := filepath.Join(cfg.Pipeline.OutputDir, "tasks_to_create_20260823_100000.json")
	require.NoError(t, report.WriteArtifactTo(path, &tasks.RunResult{RunID: "run-1"}))

	_, _, err := Recreate(context.Background(), cfg, &fakeSink{}, RecreateOptions{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no list id")
}
