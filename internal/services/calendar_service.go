package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"aria-assistant-pipeline/internal/config"
	"aria-assistant-pipeline/internal/models"
	"aria-assistant-pipeline/internal/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"
)

// CalendarService wraps Google Calendar and Google Tasks. All naive
// timestamps are interpreted in the configured timezone (Asia/Shanghai by
// default) and sent with an explicit zone annotation.
type CalendarService struct {
	events   *calendar.Service
	tasks    *tasks.Service
	config   *config.Config
	logger   *logger.Logger
	location *time.Location

	taskListMu sync.Mutex
	taskListID string
}

type EventInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

type TaskInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Notes    string `json:"notes"`
	Due      string `json:"due"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

type EventCreateRequest struct {
	Summary         string
	Description     string
	Start           time.Time
	End             time.Time
	ReminderMinutes int
	Priority        string
	Status          string
}

type TaskCreateRequest struct {
	Title    string
	Notes    string
	Due      time.Time
	Priority string
}

// Priority codes differ between the two APIs: tasks count up, events count
// down (1 is the highest event priority).
var (
	taskPriorityCodes  = map[string]string{"low": "1", "medium": "3", "high": "5"}
	eventPriorityCodes = map[string]string{"low": "5", "medium": "3", "high": "1"}
	taskPriorityNames  = map[string]string{"1": "low", "3": "medium", "5": "high"}
)

func taskPriorityCode(priority string) string {
	if code, ok := taskPriorityCodes[priority]; ok {
		return code
	}
	return "3"
}

func eventPriorityCode(priority string) string {
	if code, ok := eventPriorityCodes[priority]; ok {
		return code
	}
	return "3"
}

// NewCalendarService builds the Google clients from the credential and token
// cache files. Missing credentials leave the service disabled rather than
// failing the process; every operation then reports "not initialized", the
// same way the rest of the assistant degrades.
func NewCalendarService(ctx context.Context, cfg *config.Config, log *logger.Logger) *CalendarService {
	location, err := time.LoadLocation(cfg.Google.Timezone)
	if err != nil {
		log.Warn("invalid timezone, falling back to UTC", "timezone", cfg.Google.Timezone)
		location = time.UTC
	}

	service := &CalendarService{
		config:   cfg,
		logger:   log,
		location: location,
	}

	credentials, err := os.ReadFile(cfg.Google.CredentialsFile)
	if err != nil {
		log.Warn("calendar service disabled: credentials unavailable",
			"file", cfg.Google.CredentialsFile, "error", err.Error())
		return service
	}

	oauthConfig, err := google.ConfigFromJSON(credentials, calendar.CalendarScope, tasks.TasksScope)
	if err != nil {
		log.Warn("calendar service disabled: bad credentials file", "error", err.Error())
		return service
	}

	token, err := readTokenFile(cfg.Google.TokenFile)
	if err != nil {
		log.Warn("calendar service disabled: token cache unavailable",
			"file", cfg.Google.TokenFile, "error", err.Error())
		return service
	}

	// The oauth2 client refreshes expired tokens transparently.
	httpClient := oauthConfig.Client(ctx, token)

	eventsService, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		log.Warn("calendar client init failed", "error", err.Error())
	} else {
		service.events = eventsService
	}

	tasksService, err := tasks.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		log.Warn("tasks client init failed", "error", err.Error())
	} else {
		service.tasks = tasksService
	}

	log.Info("calendar service initialized",
		"calendar_id", cfg.Google.CalendarID,
		"timezone", cfg.Google.Timezone,
		"events_ready", service.events != nil,
		"tasks_ready", service.tasks != nil)

	return service
}

func readTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (service *CalendarService) Ready() bool {
	return service.events != nil && service.tasks != nil
}

var naiveTimeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseLocalTime parses a timestamp string. Naive values are localized to
// the given zone; values carrying an offset are converted into it.
func ParseLocalTime(value string, location *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, models.NewValidationError("TIME_EMPTY", "empty timestamp")
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.In(location), nil
	}
	for _, format := range naiveTimeFormats {
		if parsed, err := time.ParseInLocation(format, value, location); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, models.NewValidationError("TIME_PARSE", fmt.Sprintf("unrecognized timestamp %q", value))
}

// ResolveDateRange applies the defaulting rules for bulk deletes: missing
// start means now, missing end means start plus 30 days.
func ResolveDateRange(startValue, endValue string, location *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if startValue != "" {
		start, err = ParseLocalTime(startValue, location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = time.Now().In(location)
	}

	if endValue != "" {
		end, err = ParseLocalTime(endValue, location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		// A bare end date covers that whole day.
		if len(endValue) == len("2006-01-02") {
			end = end.Add(24*time.Hour - time.Second)
		}
	} else {
		end = start.Add(30 * 24 * time.Hour)
	}

	return start, end, nil
}

func (service *CalendarService) Location() *time.Location {
	return service.location
}

// ========== calendar events ==========

func (service *CalendarService) CreateEvent(ctx context.Context, req EventCreateRequest) (string, error) {
	if service.events == nil {
		return "", models.NewInternalError("CALENDAR_NOT_INITIALIZED", "日历服务未初始化")
	}

	start := req.Start
	if start.IsZero() {
		start = time.Now().In(service.location).Add(time.Hour)
	}
	end := req.End
	if end.IsZero() {
		end = start.Add(time.Hour)
	}

	reminderMinutes := req.ReminderMinutes
	if reminderMinutes <= 0 {
		reminderMinutes = 30
	}
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	status := req.Status
	if status == "" {
		status = "confirmed"
	}

	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start: &calendar.EventDateTime{
			DateTime: start.In(service.location).Format(time.RFC3339),
			TimeZone: service.config.Google.Timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: end.In(service.location).Format(time.RFC3339),
			TimeZone: service.config.Google.Timezone,
		},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: int64(reminderMinutes)},
			},
			ForceSendFields: []string{"UseDefault"},
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				"priority":      priority,
				"priority_code": eventPriorityCode(priority),
				"status":        status,
			},
		},
	}

	startTime := time.Now()
	created, err := service.events.Events.Insert(service.config.Google.CalendarID, event).Context(ctx).Do()
	service.logger.LogService("calendar", "create_event", time.Since(startTime), map[string]interface{}{
		"summary": req.Summary,
	}, err)
	if err != nil {
		return "", models.WrapExternalError("CALENDAR", err)
	}

	return fmt.Sprintf("✅ 日历事件创建成功: %s (北京时间) [id: %s]", req.Summary, created.Id), nil
}

func (service *CalendarService) QueryEvents(ctx context.Context, days, maxResults int) ([]EventInfo, error) {
	if service.events == nil {
		return nil, models.NewInternalError("CALENDAR_NOT_INITIALIZED", "日历服务未初始化")
	}
	if days <= 0 {
		days = 30
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	now := time.Now().In(service.location)
	future := now.Add(time.Duration(days) * 24 * time.Hour)

	listing, err := service.events.Events.List(service.config.Google.CalendarID).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(future.Format(time.RFC3339)).
		MaxResults(int64(maxResults)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		return nil, models.WrapExternalError("CALENDAR", err)
	}

	events := make([]EventInfo, 0, len(listing.Items))
	for _, item := range listing.Items {
		events = append(events, service.formatEvent(item))
	}
	return events, nil
}

func (service *CalendarService) formatEvent(item *calendar.Event) EventInfo {
	info := EventInfo{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Priority:    "medium",
		Status:      "confirmed",
	}
	if info.Summary == "" {
		info.Summary = "无标题"
	}
	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		if priority := item.ExtendedProperties.Private["priority"]; priority != "" {
			info.Priority = priority
		}
		if status := item.ExtendedProperties.Private["status"]; status != "" {
			info.Status = status
		}
	}
	info.Start = service.formatEventTime(item.Start)
	info.End = service.formatEventTime(item.End)
	return info
}

func (service *CalendarService) formatEventTime(when *calendar.EventDateTime) string {
	if when == nil {
		return ""
	}
	if when.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, when.DateTime); err == nil {
			return parsed.In(service.location).Format("2006-01-02 15:04:05")
		}
		return when.DateTime
	}
	return when.Date
}

func (service *CalendarService) UpdateEventStatus(ctx context.Context, eventID, status string) (string, error) {
	if service.events == nil {
		return "", models.NewInternalError("CALENDAR_NOT_INITIALIZED", "日历服务未初始化")
	}
	if status == "" {
		status = "completed"
	}

	event, err := service.events.Events.Get(service.config.Google.CalendarID, eventID).Context(ctx).Do()
	if err != nil {
		return "", models.WrapExternalError("CALENDAR", err)
	}

	if event.ExtendedProperties == nil {
		event.ExtendedProperties = &calendar.EventExtendedProperties{}
	}
	if event.ExtendedProperties.Private == nil {
		event.ExtendedProperties.Private = map[string]string{}
	}
	event.ExtendedProperties.Private["status"] = status

	if status == "completed" && !strings.HasPrefix(event.Summary, "✅ ") {
		event.Summary = "✅ " + event.Summary
	}

	if _, err := service.events.Events.Update(service.config.Google.CalendarID, eventID, event).Context(ctx).Do(); err != nil {
		return "", models.WrapExternalError("CALENDAR", err)
	}
	return fmt.Sprintf("✅ 事件状态已更新为: %s", status), nil
}

func (service *CalendarService) DeleteEvent(ctx context.Context, eventID string) error {
	if service.events == nil {
		return models.NewInternalError("CALENDAR_NOT_INITIALIZED", "日历服务未初始化")
	}
	if err := service.events.Events.Delete(service.config.Google.CalendarID, eventID).Context(ctx).Do(); err != nil {
		return models.WrapExternalError("CALENDAR", err)
	}
	return nil
}

// DeleteEventsBySummary removes upcoming events whose title contains the
// keyword, case-insensitively. The filter runs client-side after a list.
func (service *CalendarService) DeleteEventsBySummary(ctx context.Context, keyword string, days int) (int, error) {
	events, err := service.QueryEvents(ctx, days, 100)
	if err != nil {
		return 0, err
	}

	matching := FilterEventsBySummary(events, keyword)
	if len(matching) == 0 {
		return 0, models.NewNotFoundError("EVENT_NOT_FOUND", fmt.Sprintf("未找到包含 '%s' 的事件", keyword))
	}

	deleted := 0
	for _, event := range matching {
		if err := service.DeleteEvent(ctx, event.ID); err != nil {
			service.logger.Warn("delete event failed", "event_id", event.ID, "error", err.Error())
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FilterEventsBySummary keeps events whose summary contains the keyword,
// ignoring case.
func FilterEventsBySummary(events []EventInfo, keyword string) []EventInfo {
	needle := strings.ToLower(keyword)
	var matching []EventInfo
	for _, event := range events {
		if strings.Contains(strings.ToLower(event.Summary), needle) {
			matching = append(matching, event)
		}
	}
	return matching
}

func (service *CalendarService) DeleteEventsByTimeRange(ctx context.Context, start, end time.Time) (int, error) {
	if service.events == nil {
		return 0, models.NewInternalError("CALENDAR_NOT_INITIALIZED", "日历服务未初始化")
	}

	listing, err := service.events.Events.List(service.config.Google.CalendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		MaxResults(500).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		return 0, models.WrapExternalError("CALENDAR", err)
	}

	if len(listing.Items) == 0 {
		return 0, models.NewNotFoundError("EVENT_NOT_FOUND",
			fmt.Sprintf("在 %s 到 %s 范围内没有找到日历事件",
				start.Format("2006-01-02"), end.Format("2006-01-02")))
	}

	deleted := 0
	for _, item := range listing.Items {
		if err := service.events.Events.Delete(service.config.Google.CalendarID, item.Id).Context(ctx).Do(); err != nil {
			service.logger.Warn("delete event failed", "event_id", item.Id, "error", err.Error())
			continue
		}
		deleted++
	}
	return deleted, nil
}

// ========== tasks ==========

var taskPriorityNotePattern = regexp.MustCompile(`\n?\[priority:([135])\]\s*$`)

// encodeTaskNotes appends the priority code to the notes body; the tasks API
// itself has no priority field.
func encodeTaskNotes(notes, priority string) string {
	return strings.TrimRight(notes, "\n") + "\n[priority:" + taskPriorityCode(priority) + "]"
}

// decodeTaskNotes splits the priority marker back out of task notes.
func decodeTaskNotes(notes string) (string, string) {
	match := taskPriorityNotePattern.FindStringSubmatch(notes)
	if match == nil {
		return notes, "medium"
	}
	cleaned := taskPriorityNotePattern.ReplaceAllString(notes, "")
	return strings.TrimRight(cleaned, "\n"), taskPriorityNames[match[1]]
}

func (service *CalendarService) resolveTaskList(ctx context.Context) (string, error) {
	service.taskListMu.Lock()
	defer service.taskListMu.Unlock()

	if service.taskListID != "" {
		return service.taskListID, nil
	}

	name := service.config.Google.TaskListName
	if name == "" || name == "@default" {
		service.taskListID = "@default"
		return service.taskListID, nil
	}

	listing, err := service.tasks.Tasklists.List().Context(ctx).Do()
	if err != nil {
		return "", models.WrapExternalError("TASKS", err)
	}
	for _, list := range listing.Items {
		if list.Title == name {
			service.taskListID = list.Id
			return service.taskListID, nil
		}
	}

	created, err := service.tasks.Tasklists.Insert(&tasks.TaskList{Title: name}).Context(ctx).Do()
	if err != nil {
		return "", models.WrapExternalError("TASKS", err)
	}
	service.taskListID = created.Id
	return service.taskListID, nil
}

func (service *CalendarService) CreateTask(ctx context.Context, req TaskCreateRequest) (string, error) {
	if service.tasks == nil {
		return "", models.NewInternalError("TASKS_NOT_INITIALIZED", "任务服务未初始化")
	}

	listID, err := service.resolveTaskList(ctx)
	if err != nil {
		return "", err
	}

	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}

	task := &tasks.Task{
		Title:  req.Title,
		Notes:  encodeTaskNotes(req.Notes, priority),
		Status: "needsAction",
	}
	if !req.Due.IsZero() {
		task.Due = req.Due.In(service.location).Format(time.RFC3339)
	}

	startTime := time.Now()
	created, err := service.tasks.Tasks.Insert(listID, task).Context(ctx).Do()
	service.logger.LogService("tasks", "create_task", time.Since(startTime), map[string]interface{}{
		"title": req.Title,
	}, err)
	if err != nil {
		return "", models.WrapExternalError("TASKS", err)
	}

	return fmt.Sprintf("✅ 任务创建成功: %s [id: %s]", req.Title, created.Id), nil
}

func (service *CalendarService) QueryTasks(ctx context.Context, showCompleted bool, maxResults int) ([]TaskInfo, error) {
	if service.tasks == nil {
		return nil, models.NewInternalError("TASKS_NOT_INITIALIZED", "任务服务未初始化")
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	listID, err := service.resolveTaskList(ctx)
	if err != nil {
		return nil, err
	}

	call := service.tasks.Tasks.List(listID).MaxResults(int64(maxResults))
	if !showCompleted {
		call = call.ShowCompleted(false).ShowHidden(false)
	}

	listing, err := call.Context(ctx).Do()
	if err != nil {
		return nil, models.WrapExternalError("TASKS", err)
	}

	infos := make([]TaskInfo, 0, len(listing.Items))
	for _, item := range listing.Items {
		due := "无截止日期"
		if item.Due != "" {
			if parsed, err := time.Parse(time.RFC3339, item.Due); err == nil {
				due = parsed.In(service.location).Format("2006-01-02 15:04")
			}
		}
		notes, priority := decodeTaskNotes(item.Notes)
		status := "needsAction"
		if item.Status == "completed" {
			status = "completed"
		}
		infos = append(infos, TaskInfo{
			ID:       item.Id,
			Title:    item.Title,
			Notes:    notes,
			Due:      due,
			Priority: priority,
			Status:   status,
		})
	}
	return infos, nil
}

func (service *CalendarService) UpdateTaskStatus(ctx context.Context, taskID, status string) (string, error) {
	if service.tasks == nil {
		return "", models.NewInternalError("TASKS_NOT_INITIALIZED", "任务服务未初始化")
	}
	if status == "" {
		status = "completed"
	}

	listID, err := service.resolveTaskList(ctx)
	if err != nil {
		return "", err
	}

	task, err := service.tasks.Tasks.Get(listID, taskID).Context(ctx).Do()
	if err != nil {
		return "", models.WrapExternalError("TASKS", err)
	}

	if status == "completed" {
		task.Status = "completed"
		task.Completed = timePtr(time.Now().UTC().Format(time.RFC3339))
	} else {
		task.Status = "needsAction"
		task.Completed = nil
		task.NullFields = append(task.NullFields, "Completed")
	}

	if _, err := service.tasks.Tasks.Update(listID, taskID, task).Context(ctx).Do(); err != nil {
		return "", models.WrapExternalError("TASKS", err)
	}

	statusText := "完成"
	if status != "completed" {
		statusText = "重新打开"
	}
	return fmt.Sprintf("✅ 任务已标记为%s", statusText), nil
}

func timePtr(value string) *string {
	return &value
}

func (service *CalendarService) DeleteTask(ctx context.Context, taskID string) error {
	if service.tasks == nil {
		return models.NewInternalError("TASKS_NOT_INITIALIZED", "任务服务未初始化")
	}
	listID, err := service.resolveTaskList(ctx)
	if err != nil {
		return err
	}
	if err := service.tasks.Tasks.Delete(listID, taskID).Context(ctx).Do(); err != nil {
		return models.WrapExternalError("TASKS", err)
	}
	return nil
}

func (service *CalendarService) DeleteTasksByTitle(ctx context.Context, keyword string) (int, error) {
	infos, err := service.QueryTasks(ctx, true, 100)
	if err != nil {
		return 0, err
	}

	needle := strings.ToLower(keyword)
	var matching []TaskInfo
	for _, task := range infos {
		if strings.Contains(strings.ToLower(task.Title), needle) {
			matching = append(matching, task)
		}
	}
	if len(matching) == 0 {
		return 0, models.NewNotFoundError("TASK_NOT_FOUND", fmt.Sprintf("未找到包含 '%s' 的任务", keyword))
	}

	deleted := 0
	for _, task := range matching {
		if err := service.DeleteTask(ctx, task.ID); err != nil {
			service.logger.Warn("delete task failed", "task_id", task.ID, "error", err.Error())
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (service *CalendarService) DeleteTasksByTimeRange(ctx context.Context, start, end time.Time) (int, error) {
	infos, err := service.QueryTasks(ctx, true, 500)
	if err != nil {
		return 0, err
	}

	matching := FilterTasksByDueRange(infos, start, end, service.location)
	if len(matching) == 0 {
		return 0, models.NewNotFoundError("TASK_NOT_FOUND",
			fmt.Sprintf("在 %s 到 %s 范围内没有找到任务",
				start.Format("2006-01-02"), end.Format("2006-01-02")))
	}

	deleted := 0
	for _, task := range matching {
		if err := service.DeleteTask(ctx, task.ID); err != nil {
			service.logger.Warn("delete task failed", "task_id", task.ID, "error", err.Error())
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FilterTasksByDueRange keeps tasks whose due date falls inside [start, end].
// Tasks without a due date never match.
func FilterTasksByDueRange(infos []TaskInfo, start, end time.Time, location *time.Location) []TaskInfo {
	var matching []TaskInfo
	for _, task := range infos {
		if task.Due == "无截止日期" || task.Due == "" {
			continue
		}
		due, err := time.ParseInLocation("2006-01-02 15:04", task.Due, location)
		if err != nil {
			continue
		}
		if !due.Before(start) && !due.After(end) {
			matching = append(matching, task)
		}
	}
	return matching
}

func (service *CalendarService) HealthCheck(ctx context.Context) error {
	if !service.Ready() {
		return models.ErrServiceNotInitialized
	}
	_, err := service.events.CalendarList.Get(service.config.Google.CalendarID).Context(ctx).Do()
	if err != nil {
		return models.WrapExternalError("CALENDAR", err)
	}
	return nil
}
