package domain

import "errors"

// StepKind tags which runner a Step dispatches to.
type StepKind string

const (
	StepHTTP     StepKind = "http"
	StepDatabase StepKind = "database"
	StepFile     StepKind = "file"
	StepSftp     StepKind = "sftp"
)

// Step is one node in a job's pipeline. Exactly one of Http/Database/File/Sftp
// is populated, selected by Kind. Every string field (including nested ones)
// is a template subject to §4.5 reference resolution — callers must run the
// step through the resolver before handing it to a runner.
type Step struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Condition string   `json:"condition,omitempty"`
	Kind      StepKind `json:"kind"`

	Http     *HTTPStep     `json:"http,omitempty"`
	Database *DatabaseStep `json:"database,omitempty"`
	File     *FileStep     `json:"file,omitempty"`
	Sftp     *SftpStep     `json:"sftp,omitempty"`
}

func (s *Step) Validate() error {
	switch s.Kind {
	case StepHTTP:
		if s.Http == nil {
			return errors.Join(ErrInvalidJob, errors.New("step "+s.ID+": http config required"))
		}
		return s.Http.Validate()
	case StepDatabase:
		if s.Database == nil {
			return errors.Join(ErrInvalidJob, errors.New("step "+s.ID+": database config required"))
		}
		return s.Database.Validate()
	case StepFile:
		if s.File == nil {
			return errors.Join(ErrInvalidJob, errors.New("step "+s.ID+": file config required"))
		}
		return s.File.Validate()
	case StepSftp:
		if s.Sftp == nil {
			return errors.Join(ErrInvalidJob, errors.New("step "+s.ID+": sftp config required"))
		}
		return s.Sftp.Validate()
	default:
		return errors.Join(ErrInvalidJob, errors.New("step "+s.ID+": unknown kind "+string(s.Kind)))
	}
}

// HTTPAuthKind tags the HTTP step's optional authentication method.
type HTTPAuthKind string

const (
	HTTPAuthBasic  HTTPAuthKind = "basic"
	HTTPAuthBearer HTTPAuthKind = "bearer"
	HTTPAuthOAuth2 HTTPAuthKind = "oauth2_client_credentials"
)

type HTTPAuth struct {
	Kind HTTPAuthKind `json:"kind"`

	// Basic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Bearer
	Token string `json:"token,omitempty"`

	// OAuth2 client-credentials
	TokenURL     string `json:"tokenUrl,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type HTTPStep struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Auth    *HTTPAuth         `json:"auth,omitempty"`
}

func (h *HTTPStep) Validate() error {
	switch h.Method {
	case "GET", "POST", "PUT":
	default:
		return errors.Join(ErrInvalidJob, errors.New("http step: method must be GET, POST, or PUT"))
	}
	if h.URL == "" {
		return errors.Join(ErrInvalidJob, errors.New("http step: url is required"))
	}
	return nil
}

// DBEngine tags which SQL dialect a Database step targets.
type DBEngine string

const (
	DBPostgres DBEngine = "postgres"
	DBMySQL    DBEngine = "mysql"
	DBOracle   DBEngine = "oracle"
)

// QueryKind distinguishes a raw SQL string from a stored-procedure call.
type QueryKind string

const (
	QueryRawSQL           QueryKind = "raw_sql"
	QueryStoredProcedure  QueryKind = "stored_procedure"
)

type DatabaseStep struct {
	Engine           DBEngine          `json:"engine"`
	ConnectionString string            `json:"connectionString"`
	Query            string            `json:"query,omitempty"`
	QueryKind        QueryKind         `json:"queryKind"`
	ProcedureName    string            `json:"procedureName,omitempty"`
	ProcedureParams  map[string]string `json:"procedureParams,omitempty"`

	// QueryArgs holds the bound values the resolver extracted from Query's
	// ${...} references, in placeholder order. It is populated by the
	// resolver at resolve time, never stored as part of the definition —
	// the runner binds these as parameters instead of interpolating them.
	QueryArgs []string `json:"-"`
}

func (d *DatabaseStep) Validate() error {
	switch d.Engine {
	case DBPostgres, DBMySQL, DBOracle:
	default:
		return errors.Join(ErrInvalidJob, errors.New("database step: unknown engine "+string(d.Engine)))
	}
	if d.ConnectionString == "" {
		return errors.Join(ErrInvalidJob, errors.New("database step: connection_string is required"))
	}
	switch d.QueryKind {
	case QueryRawSQL:
		if d.Query == "" {
			return errors.Join(ErrInvalidJob, errors.New("database step: query is required for raw_sql"))
		}
	case QueryStoredProcedure:
		if d.ProcedureName == "" {
			return errors.Join(ErrInvalidJob, errors.New("database step: procedure_name is required for stored_procedure"))
		}
	default:
		return errors.Join(ErrInvalidJob, errors.New("database step: unknown query_kind "+string(d.QueryKind)))
	}
	return nil
}

// FileOp tags a File step's direction.
type FileOp string

const (
	FileRead  FileOp = "read"
	FileWrite FileOp = "write"
)

// FileFormat tags which parser a File step uses.
type FileFormat string

const (
	FileExcel FileFormat = "excel"
	FileCSV   FileFormat = "csv"
)

type FileStep struct {
	Op         FileOp     `json:"op"`
	Format     FileFormat `json:"format"`
	Delimiter  string     `json:"delimiter,omitempty"` // CSV only, default ","
	SourcePath string     `json:"sourcePath,omitempty"`
	DestPath   string     `json:"destPath,omitempty"`
	SheetName  string     `json:"sheetName,omitempty"` // Excel only, default first sheet
}

func (f *FileStep) Validate() error {
	switch f.Op {
	case FileRead, FileWrite:
	default:
		return errors.Join(ErrInvalidJob, errors.New("file step: op must be read or write"))
	}
	switch f.Format {
	case FileExcel, FileCSV:
	default:
		return errors.Join(ErrInvalidJob, errors.New("file step: format must be excel or csv"))
	}
	if f.Op == FileRead && f.SourcePath == "" {
		return errors.Join(ErrInvalidJob, errors.New("file step: source_path is required for read"))
	}
	if f.Op == FileWrite && f.DestPath == "" {
		return errors.Join(ErrInvalidJob, errors.New("file step: dest_path is required for write"))
	}
	return nil
}

// SftpOp tags an Sftp step's direction.
type SftpOp string

const (
	SftpDownload SftpOp = "download"
	SftpUpload   SftpOp = "upload"
)

// SftpAuthKind tags an Sftp step's authentication method.
type SftpAuthKind string

const (
	SftpAuthPassword SftpAuthKind = "password"
	SftpAuthSSHKey   SftpAuthKind = "ssh_key"
)

type SftpAuth struct {
	Kind     SftpAuthKind `json:"kind"`
	Username string       `json:"username"`
	Password string       `json:"password,omitempty"`
	KeyPath  string       `json:"keyPath,omitempty"`
	KeyPass  string       `json:"keyPassphrase,omitempty"`
}

type SftpOptions struct {
	Wildcard           string `json:"wildcard,omitempty"`
	Recursive          bool   `json:"recursive,omitempty"`
	VerifyHostKey      bool   `json:"verifyHostKey,omitempty"`
	CreateDirectories  bool   `json:"createDirectories,omitempty"`
}

type SftpStep struct {
	Op         SftpOp      `json:"op"`
	Host       string      `json:"host"`
	Port       int         `json:"port"`
	Auth       SftpAuth    `json:"auth"`
	RemotePath string      `json:"remotePath"`
	LocalPath  string      `json:"localPath"`
	Options    SftpOptions `json:"options,omitempty"`
}

func (s *SftpStep) Validate() error {
	switch s.Op {
	case SftpDownload, SftpUpload:
	default:
		return errors.Join(ErrInvalidJob, errors.New("sftp step: op must be download or upload"))
	}
	if s.Host == "" {
		return errors.Join(ErrInvalidJob, errors.New("sftp step: host is required"))
	}
	switch s.Auth.Kind {
	case SftpAuthPassword, SftpAuthSSHKey:
	default:
		return errors.Join(ErrInvalidJob, errors.New("sftp step: auth.kind must be password or ssh_key"))
	}
	if s.RemotePath == "" {
		return errors.Join(ErrInvalidJob, errors.New("sftp step: remote_path is required"))
	}
	return nil
}
