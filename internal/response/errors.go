package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound       ErrCode = "NOT_FOUND"
	ErrResultNotFound ErrCode = "RESULT_NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamLoadFailed     ErrCode = "EXAM_LOAD_FAILED"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrSessionNotOpen     ErrCode = "SESSION_NOT_OPEN"
	ErrSessionNotActive   ErrCode = "SESSION_NOT_IN_PROGRESS"
	ErrAlreadySubmitted   ErrCode = "EXAM_ALREADY_SUBMITTED"
	ErrSubmitInFlight     ErrCode = "SUBMIT_IN_PROGRESS"
	ErrSubmitNotConfirmed ErrCode = "SUBMIT_NOT_CONFIRMED"
	ErrSubmitFailed       ErrCode = "SUBMIT_FAILED"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidOption      ErrCode = "INVALID_OPTION"
	ErrIndexOutOfRange    ErrCode = "INDEX_OUT_OF_RANGE"
	ErrTimeUp             ErrCode = "EXAM_TIME_UP"

	// ─── Backend ───────────────────────────────────────────────────────
	ErrBackend            ErrCode = "BACKEND_ERROR"
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email atau kata sandi salah."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrResultNotFound:
		return "Hasil ujian belum tersedia."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamLoadFailed:
		return "Gagal memuat data ujian. Silakan coba lagi."
	case ErrNoQuestions:
		return "Ujian ini belum memiliki soal."
	case ErrSessionNotOpen:
		return "Sesi ujian belum dibuka."
	case ErrSessionNotActive:
		return "Sesi ujian tidak sedang berlangsung."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrSubmitInFlight:
		return "Jawaban sedang dikirim. Mohon tunggu."
	case ErrSubmitNotConfirmed:
		return "Konfirmasi diperlukan sebelum mengumpulkan ujian."
	case ErrSubmitFailed:
		return "Gagal mengirim jawaban. Jawaban Anda tetap tersimpan, silakan coba lagi."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrInvalidOption:
		return "Pilihan jawaban tidak valid."
	case ErrIndexOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrTimeUp:
		return "Waktu ujian telah habis."

	// ─── Backend ───────────────────────────────────────────────────────
	case ErrBackend:
		return "Server ujian menolak permintaan."
	case ErrBackendUnavailable:
		return "Server ujian tidak dapat dihubungi. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan internal pada server."

	default:
		return "Terjadi kesalahan yang tidak diketahui."
	}
}
