package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults
const (
	DefaultAPIBaseURL           = "https://face-recognition-attendance-project.onrender.com"
	DefaultRequestTimeout       = 10 * time.Second
	DefaultFacePollPeriod       = 2 * time.Second
	DefaultScanPeriod           = 200 * time.Millisecond
	DefaultMaxBackoff           = 30 * time.Second
	DefaultQRRefreshPeriod      = 20 * time.Second
	DefaultAttendancePollPeriod = 10 * time.Second
	DefaultAdminRefreshPeriod   = 10 * time.Second
	DefaultDatabaseURL          = "faceattend.db"
	DefaultCameraBackend        = "dir"
)

var ErrNoCommand = errors.New("command required: student, teacher, admin, register, history or hashpw")

type Config struct {
	APIBaseURL     string
	RequestTimeout time.Duration

	FacePollPeriod time.Duration
	ScanPeriod     time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int

	QRRefreshPeriod      time.Duration
	AttendancePollPeriod time.Duration
	AdminRefreshPeriod   time.Duration

	DatabaseType string
	DatabaseURL  string

	CameraBackend string
	FrontCamera   string
	BackCamera    string

	AdminUsername     string
	AdminPasswordHash string

	LogLevel string

	Command     string
	CommandArgs []string
}

// ParseFlags reads global flags, then the optional .env file, then env
// variables for anything the flags left unset. The first positional
// argument is the command; the rest belong to the command's own flags.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var envFile string
	var maxAttempts int

	fs := flag.NewFlagSet("faceattend", flag.ContinueOnError)

	fs.StringVar(&envFile, "env", ".env", "Path to an optional .env file")

	// Backend
	fs.StringVar(&cfg.APIBaseURL, "api", "", "Backend base URL")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", 0, "Per-request timeout")

	// Student flow pacing
	fs.DurationVar(&cfg.FacePollPeriod, "face-poll", 0, "Delay between face verification attempts")
	fs.DurationVar(&cfg.ScanPeriod, "scan-period", 0, "Delay between QR decode attempts")
	fs.DurationVar(&cfg.MaxBackoff, "max-backoff", 0, "Upper bound for retry backoff")
	fs.IntVar(&maxAttempts, "max-attempts", -1, "Give up face verification after N attempts (0 = never)")

	// Teacher / admin polling
	fs.DurationVar(&cfg.QRRefreshPeriod, "qr-refresh", 0, "QR token refresh period")
	fs.DurationVar(&cfg.AttendancePollPeriod, "attendance-poll", 0, "Attendance polling period")
	fs.DurationVar(&cfg.AdminRefreshPeriod, "admin-refresh", 0, "Pending list refresh period")

	// Journal
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Journal database URL or sqlite file")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Journal database type (sqlite or postgres)")

	// Cameras
	fs.StringVar(&cfg.CameraBackend, "camera", "", "Camera backend (dir or gocv)")
	fs.StringVar(&cfg.FrontCamera, "front", "", "Front camera device (directory or device index)")
	fs.StringVar(&cfg.BackCamera, "back", "", "Rear camera device (directory or device index)")

	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// A missing .env is fine; a broken one is not
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var err error
	cfg.APIBaseURL = strings.TrimRight(firstNonEmpty(cfg.APIBaseURL, os.Getenv("API_BASE_URL"), DefaultAPIBaseURL), "/")

	durations := []struct {
		dst *time.Duration
		env string
		def time.Duration
	}{
		{&cfg.RequestTimeout, "REQUEST_TIMEOUT", DefaultRequestTimeout},
		{&cfg.FacePollPeriod, "FACE_POLL_PERIOD", DefaultFacePollPeriod},
		{&cfg.ScanPeriod, "SCAN_PERIOD", DefaultScanPeriod},
		{&cfg.MaxBackoff, "RETRY_MAX_BACKOFF", DefaultMaxBackoff},
		{&cfg.QRRefreshPeriod, "QR_REFRESH_PERIOD", DefaultQRRefreshPeriod},
		{&cfg.AttendancePollPeriod, "ATTENDANCE_POLL_PERIOD", DefaultAttendancePollPeriod},
		{&cfg.AdminRefreshPeriod, "ADMIN_REFRESH_PERIOD", DefaultAdminRefreshPeriod},
	}
	for _, d := range durations {
		if *d.dst == 0 {
			if *d.dst, err = envDuration(d.env, d.def); err != nil {
				return Config{}, err
			}
		}
		if *d.dst < 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.env)
		}
	}

	if maxAttempts >= 0 {
		cfg.MaxAttempts = maxAttempts
	} else if s := os.Getenv("RETRY_MAX_ATTEMPTS"); s != "" {
		cfg.MaxAttempts, err = strconv.Atoi(s)
		if err != nil || cfg.MaxAttempts < 0 {
			return Config{}, errors.New("invalid RETRY_MAX_ATTEMPTS env variable")
		}
	}

	cfg.DatabaseURL = firstNonEmpty(cfg.DatabaseURL, os.Getenv("DATABASE_URL"), DefaultDatabaseURL)
	cfg.DatabaseType = firstNonEmpty(cfg.DatabaseType, os.Getenv("DATABASE_TYPE"), "sqlite")
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unknown database type %q", cfg.DatabaseType)
	}

	cfg.CameraBackend = firstNonEmpty(cfg.CameraBackend, os.Getenv("CAMERA_BACKEND"), DefaultCameraBackend)
	cfg.FrontCamera = firstNonEmpty(cfg.FrontCamera, os.Getenv("FRONT_CAMERA"))
	cfg.BackCamera = firstNonEmpty(cfg.BackCamera, os.Getenv("BACK_CAMERA"))

	// Admin gate (env only, never a flag)
	cfg.AdminUsername = firstNonEmpty(os.Getenv("ADMIN_USERNAME"), "admin")
	cfg.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")

	cfg.LogLevel = firstNonEmpty(cfg.LogLevel, os.Getenv("LOG_LEVEL"), "info")

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, ErrNoCommand
	}
	cfg.Command = rest[0]
	cfg.CommandArgs = rest[1:]

	return cfg, nil
}

type StudentArgs struct {
	UserID   string
	Password string
}

func ParseStudentArgs(args []string) (StudentArgs, error) {
	var a StudentArgs
	fs := flag.NewFlagSet("student", flag.ContinueOnError)
	fs.StringVar(&a.UserID, "u", "", "Student user ID")
	fs.StringVar(&a.Password, "p", "", "Password (prefer STUDENT_PASSWORD env)")
	if err := fs.Parse(args); err != nil {
		return StudentArgs{}, err
	}
	a.Password = firstNonEmpty(a.Password, os.Getenv("STUDENT_PASSWORD"))
	if a.UserID == "" || a.Password == "" {
		return StudentArgs{}, errors.New("student: -u and -p are required")
	}
	return a, nil
}

type TeacherArgs struct {
	TeacherID string
	ClassID   string
	Duration  time.Duration
	Resume    bool
}

func ParseTeacherArgs(args []string) (TeacherArgs, error) {
	var a TeacherArgs
	fs := flag.NewFlagSet("teacher", flag.ContinueOnError)
	fs.StringVar(&a.TeacherID, "teacher", "", "Teacher ID")
	fs.StringVar(&a.ClassID, "class", "", "Class ID")
	fs.DurationVar(&a.Duration, "duration", 0, "Session duration")
	fs.BoolVar(&a.Resume, "resume", false, "Attach to the class's existing session instead of creating one")
	if err := fs.Parse(args); err != nil {
		return TeacherArgs{}, err
	}
	if a.ClassID == "" {
		return TeacherArgs{}, errors.New("teacher: -class is required")
	}
	if !a.Resume && a.TeacherID == "" {
		return TeacherArgs{}, errors.New("teacher: -teacher is required to create a session")
	}
	if a.Duration < 0 {
		return TeacherArgs{}, errors.New("teacher: -duration must be positive")
	}
	return a, nil
}

type AdminArgs struct {
	Username string
	Password string
}

func ParseAdminArgs(args []string) (AdminArgs, error) {
	var a AdminArgs
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	fs.StringVar(&a.Username, "u", "", "Admin username")
	fs.StringVar(&a.Password, "p", "", "Admin password (prefer ADMIN_PASSWORD env)")
	if err := fs.Parse(args); err != nil {
		return AdminArgs{}, err
	}
	a.Password = firstNonEmpty(a.Password, os.Getenv("ADMIN_PASSWORD"))
	return a, nil
}

type RegisterArgs struct {
	UserID   string
	Name     string
	Email    string
	Password string
	Role     string
}

// ParseRegisterArgs only parses; field validation happens in the
// registration package so the screen can report every problem at once.
func ParseRegisterArgs(args []string) (RegisterArgs, error) {
	var a RegisterArgs
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.StringVar(&a.UserID, "u", "", "User ID")
	fs.StringVar(&a.Name, "name", "", "Full name")
	fs.StringVar(&a.Email, "email", "", "Email")
	fs.StringVar(&a.Password, "p", "", "Password")
	fs.StringVar(&a.Role, "role", "student", "Role (student or teacher)")
	if err := fs.Parse(args); err != nil {
		return RegisterArgs{}, err
	}
	return a, nil
}

type HistoryArgs struct {
	UserID string
	Limit  int
}

func ParseHistoryArgs(args []string) (HistoryArgs, error) {
	var a HistoryArgs
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.StringVar(&a.UserID, "u", "", "Only show attempts for this user")
	fs.IntVar(&a.Limit, "n", 20, "Number of attempts to show")
	if err := fs.Parse(args); err != nil {
		return HistoryArgs{}, err
	}
	if a.Limit <= 0 {
		return HistoryArgs{}, errors.New("history: -n must be positive")
	}
	return a, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s env variable: %w", key, err)
	}
	return d, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
