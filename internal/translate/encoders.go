package translate

// Reference encoders register themselves with asm on import.
import (
	_ "github.com/tinyrange/xlate/internal/asm/amd64"
	_ "github.com/tinyrange/xlate/internal/asm/arm64"
	_ "github.com/tinyrange/xlate/internal/asm/ppc64"
	_ "github.com/tinyrange/xlate/internal/asm/riscv"
)
